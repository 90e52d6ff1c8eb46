package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.dev/internal/render"
	"voxelgrid.dev/internal/sim/voxel"
	"voxelgrid.dev/internal/sim/world"
	"voxelgrid.dev/internal/transport/client"
)

// Headless client: mirrors the server's world, walks the player around, and
// runs the mesh rebuild pipeline a renderer would consume.
func main() {
	var (
		url        = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "server websocket url")
		configDir  = flag.String("configs", "./configs", "config directory")
		typesPath  = flag.String("types", "", "path to voxel_types.json (default: <configs>/voxel_types.json)")
		viewRadius = flag.Int("radius", 4, "view radius in chunks")
		tickMs     = flag.Int("tick", 50, "movement tick in milliseconds")
		walkSpeed  = flag.Float64("speed", 0.15, "per-tick step length (keep below the server's clamp)")
		meshBudget = flag.Int("mesh_budget", 8, "chunk meshes rebuilt per tick")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	reg := voxel.NewRegistry(logger)
	mp := strings.TrimSpace(*typesPath)
	if mp == "" {
		mp = filepath.Join(*configDir, "voxel_types.json")
	}
	if n, err := voxel.LoadManifest(mp, reg); err != nil {
		if os.IsNotExist(err) {
			logger.Printf("voxel type manifest not found (%s); relying on placeholders", mp)
		} else {
			logger.Fatalf("load voxel types: %v", err)
		}
	} else {
		logger.Printf("registered %d voxel types from %s", n, mp)
	}

	w := world.New(logger)
	r := render.New(w, logger)
	w.SetChunkListener(r)

	tr := client.New(*url, w, reg, time.Duration(*tickMs)*time.Millisecond, logger)
	var posMu sync.Mutex
	pos := mgl32.Vec3{0.5, 1.5, 0.5}
	tr.OnSetPosition = func(p mgl32.Vec3) {
		posMu.Lock()
		pos = p
		posMu.Unlock()
	}

	ctx, cancel := signalContext()
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- tr.Run(ctx) }()

	statusLine := color.New(color.FgCyan).PrintfFunc()
	tick := time.NewTicker(time.Duration(*tickMs) * time.Millisecond)
	defer tick.Stop()
	status := time.NewTicker(2 * time.Second)
	defer status.Stop()

	yaw := float32(0)
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down")
			return
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				logger.Fatalf("transport: %v", err)
			}
			return
		case <-tick.C:
			// Random walk in small steps the server's clamp accepts.
			yaw += float32(rand.Float64()*30 - 15)
			dir := mgl32.Rotate3DY(mgl32.DegToRad(yaw)).Mul3x1(mgl32.Vec3{1, 0, 0})
			posMu.Lock()
			pos = pos.Add(dir.Mul(float32(*walkSpeed)))
			p := pos
			posMu.Unlock()
			tr.UpdatePlayerPosition(p, yaw, 0, uint8(*viewRadius))
			r.BuildInvalidated(*meshBudget)
		case <-status.C:
			posMu.Lock()
			p := pos
			posMu.Unlock()
			statusLine("pos=(%.1f,%.1f,%.1f) chunks=%d meshes=%d queue=%d\n",
				p.X(), p.Y(), p.Z(), tr.ChunksReceived(), r.BuiltCount(), r.QueueLen())
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

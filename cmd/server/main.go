package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelgrid.dev/internal/persistence/indexdb"
	"voxelgrid.dev/internal/sim/tuning"
	"voxelgrid.dev/internal/sim/voxel"
	"voxelgrid.dev/internal/sim/world"
	"voxelgrid.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		typesPath  = flag.String("types", "", "path to voxel_types.json (default: <configs>/voxel_types.json)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the runtime index (sessions + violations)")
		verbose    = flag.Bool("verbose", false, "log every position update and chunk push")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	reg := voxel.NewRegistry(logger)
	gen := world.NewGenerator(reg, log.New(os.Stdout, "[gen] ", log.LstdFlags|log.Lmicroseconds))
	defer gen.Shutdown()

	mp := strings.TrimSpace(*typesPath)
	if mp == "" {
		mp = filepath.Join(*configDir, "voxel_types.json")
	}
	if n, err := voxel.LoadManifest(mp, reg); err != nil {
		if os.IsNotExist(err) {
			logger.Printf("voxel type manifest not found (%s); using built-in types", mp)
		} else {
			logger.Fatalf("load voxel types: %v", err)
		}
	} else {
		logger.Printf("registered %d voxel types from %s", n, mp)
	}

	w := world.New(logger)
	w.SetChunkLoader(gen)

	lights := world.NewLightComputer(log.New(os.Stdout, "[lights] ", log.LstdFlags|log.Lmicroseconds))
	defer lights.Shutdown()

	var idx *indexdb.Index
	var rec ws.SessionRecorder
	if !*disableDB {
		idx, err = indexdb.Open(filepath.Join(*dataDir, "index.db"), logger)
		if err != nil {
			logger.Fatalf("open runtime index: %v", err)
		}
		defer idx.Close()
		rec = idx
	}

	srv := ws.NewServer(w, reg, tune, rec, logger)
	srv.Verbose = *verbose
	defer srv.Close()
	w.SetChunkListener(&serverChunkListener{world: w, lights: lights, srv: srv})

	updater := world.NewUpdater(w, time.Duration(tune.SlowUpdateMs)*time.Millisecond, logger)
	defer updater.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP voxelgrid_loaded_chunks Loaded chunk count.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_loaded_chunks gauge\n")
		fmt.Fprintf(rw, "voxelgrid_loaded_chunks %d\n", w.Len())

		fmt.Fprintf(rw, "# HELP voxelgrid_clients Connected client count.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_clients gauge\n")
		fmt.Fprintf(rw, "voxelgrid_clients %d\n", srv.ClientCount())

		fmt.Fprintf(rw, "# HELP voxelgrid_queue_depth Worker queue backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxelgrid_queue_depth{queue=%q} %d\n", "generator", gen.QueueLen())
		fmt.Fprintf(rw, "voxelgrid_queue_depth{queue=%q} %d\n", "lights", lights.QueueLen())

		fmt.Fprintf(rw, "# HELP voxelgrid_chunks_pushed_total Chunk frames queued to clients.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_chunks_pushed_total counter\n")
		fmt.Fprintf(rw, "voxelgrid_chunks_pushed_total %d\n", srv.PushedChunks())

		fmt.Fprintf(rw, "# HELP voxelgrid_registered_voxel_types Registered voxel type count.\n")
		fmt.Fprintf(rw, "# TYPE voxelgrid_registered_voxel_types gauge\n")
		fmt.Fprintf(rw, "voxelgrid_registered_voxel_types %d\n", reg.Len())

		if idx != nil {
			fmt.Fprintf(rw, "# HELP voxelgrid_index_dropped_total Index records dropped to backpressure.\n")
			fmt.Fprintf(rw, "# TYPE voxelgrid_index_dropped_total counter\n")
			fmt.Fprintf(rw, "voxelgrid_index_dropped_total %d\n", idx.Dropped())
		}
	})
	mux.HandleFunc("/admin/v1/unload", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		visible := srv.VisibleChunks()
		var victims []world.ChunkPos
		for _, pos := range w.LoadedChunks() {
			if _, ok := visible[pos]; !ok {
				victims = append(victims, pos)
			}
		}
		w.UnloadChunks(victims)
		logger.Printf("admin unload: released %d chunks (%d visible)", len(victims), len(visible))
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"unloaded": len(victims), "loaded": w.Len()})
	})
	mux.HandleFunc("/v1/ws", srv.Handler())

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// serverChunkListener couples the dirty pipeline to its two consumers:
// every invalidation broadcasts the chunk to clients in view, and
// light-dirty releases additionally feed the light computer (whose own
// changes come back through here as plain invalidations).
type serverChunkListener struct {
	world  *world.World
	lights *world.LightComputer
	srv    *ws.Server
}

func (l *serverChunkListener) ChunkInvalidated(pos world.ChunkPos, lightDirty bool) {
	if lightDirty {
		l.lights.ComputeAsync(l.world, pos)
	}
	l.srv.BroadcastChunk(pos)
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

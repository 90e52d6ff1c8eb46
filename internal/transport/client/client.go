// Package client implements the client side of the wire protocol: a dialed
// WebSocket, coalesced position updates flushed at most once per tick, and
// chunk ingestion into the client's mirror world.
package client

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"voxelgrid.dev/internal/protocol"
	"voxelgrid.dev/internal/sim/voxel"
	"voxelgrid.dev/internal/sim/world"
)

// frameWriter is the slice of *websocket.Conn the sender needs.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

type Transport struct {
	url   string
	world *world.World
	reg   *voxel.Registry
	log   *log.Logger
	flush time.Duration

	// OnSetPosition runs when the server forces a position reset.
	OnSetPosition func(mgl32.Vec3)

	mu            sync.Mutex
	w             frameWriter
	pendingPos    mgl32.Vec3
	pendingYaw    float32
	pendingPitch  float32
	pendingRadius uint8
	pendingValid  bool
	lastSent      protocol.UpdatePosition
	lastValid     bool

	chunksReceived atomic.Int64
}

func New(url string, w *world.World, reg *voxel.Registry, flush time.Duration, logger *log.Logger) *Transport {
	return &Transport{
		url:   url,
		world: w,
		reg:   reg,
		log:   logger,
		flush: flush,
	}
}

// Run dials the server and services the connection until the context ends
// or the server goes away.
func (t *Transport) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	defer conn.Close()
	t.mu.Lock()
	t.w = conn
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go t.flushLoop(ctx)

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := t.HandleFrame(frame); err != nil {
			t.log.Printf("protocol violation, closing: %v", err)
			return err
		}
	}
}

// HandleFrame applies one server frame to the mirror world.
func (t *Transport) HandleFrame(frame []byte) error {
	tag, body, err := protocol.SplitTag(frame)
	if err != nil {
		return err
	}
	switch tag {
	case protocol.ServerSetPosition:
		pos, err := protocol.DecodeSetPosition(body)
		if err != nil {
			return err
		}
		t.log.Printf("position reset by server to %v", pos)
		t.mu.Lock()
		t.pendingPos = pos
		t.pendingValid = true
		t.mu.Unlock()
		if t.OnSetPosition != nil {
			t.OnSetPosition(pos)
		}
		return nil
	case protocol.ServerSetChunk, protocol.ServerSetChunkZstd:
		x, y, z, payload, err := protocol.DecodeSetChunk(tag, body)
		if err != nil {
			return err
		}
		pos := world.ChunkPos{X: int(x), Y: int(y), Z: int(z)}
		m := t.world.MutableChunk(pos, world.PolicyCreate)
		if err := world.DecodeChunk(&m, t.reg, bytes.NewReader(payload)); err != nil {
			m.Release()
			return fmt.Errorf("chunk %v: %w", pos, err)
		}
		m.MarkDirty(false)
		m.Release()
		t.chunksReceived.Add(1)
		return nil
	default:
		return fmt.Errorf("unknown message tag %d", tag)
	}
}

// UpdatePlayerPosition records the newest player state; the flush loop sends
// it on the next tick if anything changed.
func (t *Transport) UpdatePlayerPosition(pos mgl32.Vec3, yaw, pitch float32, viewRadius uint8) {
	t.mu.Lock()
	t.pendingPos = pos
	t.pendingYaw = yaw
	t.pendingPitch = pitch
	t.pendingRadius = viewRadius
	t.pendingValid = true
	t.mu.Unlock()
}

// Flush sends at most one coalesced UPDATE_POSITION; unchanged state sends
// nothing.
func (t *Transport) Flush() error {
	t.mu.Lock()
	if !t.pendingValid || t.w == nil {
		t.mu.Unlock()
		return nil
	}
	m := protocol.UpdatePosition{
		Pos:        t.pendingPos,
		Yaw:        t.pendingYaw,
		Pitch:      t.pendingPitch,
		ViewRadius: t.pendingRadius,
	}
	if t.lastValid && m == t.lastSent {
		t.mu.Unlock()
		return nil
	}
	w := t.w
	t.lastSent = m
	t.lastValid = true
	t.mu.Unlock()
	return w.WriteMessage(websocket.BinaryMessage, protocol.EncodeUpdatePosition(m))
}

func (t *Transport) flushLoop(ctx context.Context) {
	tick := time.NewTicker(t.flush)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := t.Flush(); err != nil {
				t.log.Printf("flush: %v", err)
				return
			}
		}
	}
}

// ChunksReceived reports how many chunk frames arrived.
func (t *Transport) ChunksReceived() int64 { return t.chunksReceived.Load() }

// setWriter lets tests inject a frame sink.
func (t *Transport) setWriter(w frameWriter) {
	t.mu.Lock()
	t.w = w
	t.mu.Unlock()
}

package world

import (
	"log"
	"sync"
	"time"

	"voxelgrid.dev/internal/sim/voxel"
)

// Updater runs the slow-update sweep: each tick it takes an extended-mutable
// handle on one loaded chunk (round-robin) and gives every cell's type a
// SlowUpdate. Cells reporting invalidation dirty the chunk, which feeds the
// regular listener pipeline.
type Updater struct {
	world *World
	log   *log.Logger

	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	next ChunkPos
}

func NewUpdater(w *World, interval time.Duration, logger *log.Logger) *Updater {
	u := &Updater{
		world:    w,
		log:      logger,
		interval: interval,
		done:     make(chan struct{}),
	}
	u.wg.Add(1)
	go u.run()
	return u
}

func (u *Updater) Shutdown() {
	select {
	case <-u.done:
		return
	default:
	}
	close(u.done)
	u.wg.Wait()
}

func (u *Updater) run() {
	defer u.wg.Done()
	t := time.NewTicker(u.interval)
	defer t.Stop()
	for {
		select {
		case <-u.done:
			return
		case <-t.C:
			u.sweepOnce()
		}
	}
}

func (u *Updater) sweepOnce() {
	defer func() {
		if r := recover(); r != nil && u.log != nil {
			u.log.Printf("updater: sweep panicked: %v", r)
		}
	}()
	pos, ok := u.pickNext()
	if !ok {
		return
	}
	ref := u.world.ExtendedMutableChunk(pos, PolicyNone)
	if !ref.Valid() {
		return
	}
	invalidated := map[voxel.Cell]struct{}{}
	for z := 0; z < ChunkSize; z++ {
		for y := 0; y < ChunkSize; y++ {
			for x := 0; x < ChunkSize; x++ {
				cell := voxel.Cell{X: x, Y: y, Z: z}
				v := ref.At(cell)
				v.SlowUpdate(&ref, x, y, z, invalidated)
				ref.SetValue(cell, v)
			}
		}
	}
	if len(invalidated) > 0 {
		ref.MarkDirty(false)
	}
	ref.Release()
}

// pickNext advances round-robin through the loaded chunk list.
func (u *Updater) pickNext() (ChunkPos, bool) {
	loaded := u.world.LoadedChunks()
	if len(loaded) == 0 {
		return ChunkPos{}, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, pos := range loaded {
		if u.next.Less(pos) {
			u.next = pos
			return pos, true
		}
	}
	u.next = loaded[0]
	return loaded[0], true
}

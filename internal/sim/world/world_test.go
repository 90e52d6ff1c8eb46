package world

import (
	"sync"
	"testing"
	"time"

	"voxelgrid.dev/internal/sim/voxel"
)

type listenerCall struct {
	pos   ChunkPos
	light bool
}

type recListener struct {
	mu    sync.Mutex
	calls []listenerCall
}

func (r *recListener) ChunkInvalidated(pos ChunkPos, lightDirty bool) {
	r.mu.Lock()
	r.calls = append(r.calls, listenerCall{pos, lightDirty})
	r.mu.Unlock()
}

func (r *recListener) snapshot() []listenerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]listenerCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recListener) countFor(pos ChunkPos) int {
	n := 0
	for _, c := range r.snapshot() {
		if c.pos == pos {
			n++
		}
	}
	return n
}

func TestVoxelPosSplitRoundTrip(t *testing.T) {
	cases := []struct {
		pos      VoxelPos
		wantCP   ChunkPos
		wantCell voxel.Cell
	}{
		{VoxelPos{X: 0, Y: 0, Z: 0}, ChunkPos{X: 0, Y: 0, Z: 0}, voxel.Cell{X: 0, Y: 0, Z: 0}},
		{VoxelPos{X: 15, Y: 15, Z: 15}, ChunkPos{X: 0, Y: 0, Z: 0}, voxel.Cell{X: 15, Y: 15, Z: 15}},
		{VoxelPos{X: 16, Y: 0, Z: 0}, ChunkPos{X: 1, Y: 0, Z: 0}, voxel.Cell{X: 0, Y: 0, Z: 0}},
		{VoxelPos{X: -1, Y: 0, Z: 0}, ChunkPos{X: -1, Y: 0, Z: 0}, voxel.Cell{X: 15, Y: 0, Z: 0}},
		{VoxelPos{X: -17, Y: 0, Z: -1}, ChunkPos{X: -2, Y: 0, Z: -1}, voxel.Cell{X: 15, Y: 0, Z: 15}},
	}
	for _, c := range cases {
		cp, cell := c.pos.Split()
		if cp != c.wantCP || cell != c.wantCell {
			t.Fatalf("Split(%v): got (%v, %v) want (%v, %v)", c.pos, cp, cell, c.wantCP, c.wantCell)
		}
		if back := Compose(cp, cell); back != c.pos {
			t.Fatalf("Compose(%v, %v): got %v want %v", cp, cell, back, c.pos)
		}
	}
}

func createChunkAt(t *testing.T, w *World, pos ChunkPos) {
	t.Helper()
	ref := w.MutableChunk(pos, PolicyCreate)
	if !ref.Valid() {
		t.Fatalf("create chunk %v failed", pos)
	}
	ref.Release()
}

func TestNeighborSymmetry(t *testing.T) {
	w := New(nil)
	positions := []ChunkPos{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 1}, {-1, 0, 0}, {-1, -1, -1},
	}
	for _, pos := range positions {
		createChunkAt(t, w, pos)
	}

	check := func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		for pos, c := range w.chunks {
			for dz := -1; dz <= 1; dz++ {
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 && dz == 0 {
							continue
						}
						n := c.neighbors[neighborIndex(dx, dy, dz)]
						other := w.chunks[pos.offset(dx, dy, dz)]
						if (n != nil) != (other != nil) {
							t.Fatalf("chunk %v neighbor (%d,%d,%d): linked=%v loaded=%v",
								pos, dx, dy, dz, n != nil, other != nil)
						}
						if n != nil && n.neighbors[neighborIndex(-dx, -dy, -dz)] != c {
							t.Fatalf("chunk %v neighbor (%d,%d,%d) back-link broken", pos, dx, dy, dz)
						}
					}
				}
			}
		}
	}
	check()

	w.UnloadChunks([]ChunkPos{{0, 0, 0}, {1, 1, 1}})
	check()

	createChunkAt(t, w, ChunkPos{X: 0, Y: 0, Z: 0})
	check()
}

func TestExtendedAtCrossBoundary(t *testing.T) {
	reg := voxel.NewRegistry(nil)
	stone := reg.Add(voxel.NewSimpleType("stone", "s.png", false, 0, false, true))

	w := New(nil)
	createChunkAt(t, w, ChunkPos{X: 0, Y: 0, Z: 0})
	m := w.MutableChunk(ChunkPos{X: 1, Y: 0, Z: 0}, PolicyCreate)
	m.SetType(voxel.Cell{X: 0, Y: 0, Z: 0}, stone)
	m.Release()

	ref := w.ExtendedChunk(ChunkPos{X: 0, Y: 0, Z: 0}, PolicyNone)
	if !ref.Valid() {
		t.Fatal("extended handle invalid")
	}
	got := ref.ExtendedAt(16, 0, 0)
	ref.Release()
	if got.Type().Name() != "stone" {
		t.Fatalf("cross-boundary read: got %q want stone", got.Type().Name())
	}

	w.UnloadChunks([]ChunkPos{{1, 0, 0}})
	ref = w.ExtendedChunk(ChunkPos{X: 0, Y: 0, Z: 0}, PolicyNone)
	got = ref.ExtendedAt(16, 0, 0)
	ref.Release()
	if got.Type() != voxel.EmptyType {
		t.Fatalf("read into unloaded neighbor: got %q want empty", got.Type().Name())
	}
}

func TestExtendedAtEmptyClosure(t *testing.T) {
	w := New(nil)
	createChunkAt(t, w, ChunkPos{X: 0, Y: 0, Z: 0})
	ref := w.ExtendedChunk(ChunkPos{X: 0, Y: 0, Z: 0}, PolicyNone)
	defer ref.Release()
	for _, c := range []voxel.Cell{
		{X: 1000, Y: 0, Z: 0},
		{X: -500, Y: -500, Z: -500},
		{X: 16, Y: 16, Z: 16},
		{X: -1, Y: 0, Z: 31},
	} {
		got := ref.ExtendedAt(c.X, c.Y, c.Z)
		if got.Type() != voxel.EmptyType {
			t.Fatalf("ExtendedAt(%v): got %q want empty", c, got.Type().Name())
		}
	}
}

func TestDirtyListenerExactlyOnce(t *testing.T) {
	reg := voxel.NewRegistry(nil)
	stone := reg.Add(voxel.NewSimpleType("stone", "s.png", false, 0, false, true))

	w := New(nil)
	rec := &recListener{}
	w.SetChunkListener(rec)

	pos := ChunkPos{X: 0, Y: 0, Z: 0}
	m := w.MutableChunk(pos, PolicyCreate)
	m.SetType(voxel.Cell{X: 1, Y: 2, Z: 3}, stone)
	m.MarkDirty(false)
	m.Release()

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("listener calls: got %d want 1 (%v)", len(calls), calls)
	}
	if calls[0].pos != pos || calls[0].light {
		t.Fatalf("listener call: got %+v", calls[0])
	}

	// Release without mutation does not notify.
	m = w.MutableChunk(pos, PolicyNone)
	m.Release()
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("listener calls after clean release: got %d want 1", got)
	}

	// Double release is a no-op.
	m.Release()
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("listener calls after double release: got %d want 1", got)
	}
}

func TestListenerRunsAfterUnlock(t *testing.T) {
	reg := voxel.NewRegistry(nil)
	stone := reg.Add(voxel.NewSimpleType("stone", "s.png", false, 0, false, true))

	w := New(nil)
	pos := ChunkPos{X: 0, Y: 0, Z: 0}
	createChunkAt(t, w, pos)

	reacquired := make(chan bool, 1)
	w.SetChunkListener(listenerFunc(func(p ChunkPos, _ bool) {
		// Re-acquiring inside the listener must not deadlock.
		ref := w.Chunk(p, PolicyNone)
		reacquired <- ref.Valid()
		ref.Release()
	}))

	m := w.MutableChunk(pos, PolicyNone)
	m.SetType(voxel.Cell{}, stone)
	m.MarkDirty(false)
	m.Release()

	select {
	case ok := <-reacquired:
		if !ok {
			t.Fatal("listener could not re-acquire the chunk")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener deadlocked re-acquiring the chunk")
	}
}

type listenerFunc func(ChunkPos, bool)

func (f listenerFunc) ChunkInvalidated(pos ChunkPos, lightDirty bool) { f(pos, lightDirty) }

func TestHandleReleaseVisibility(t *testing.T) {
	reg := voxel.NewRegistry(nil)
	stone := reg.Add(voxel.NewSimpleType("stone", "s.png", false, 0, false, true))

	w := New(nil)
	pos := ChunkPos{X: 0, Y: 0, Z: 0}
	createChunkAt(t, w, pos)

	done := make(chan struct{})
	go func() {
		m := w.MutableChunk(pos, PolicyNone)
		m.SetType(voxel.Cell{X: 5, Y: 5, Z: 5}, stone)
		m.SetLight(voxel.Cell{X: 5, Y: 5, Z: 5}, 3)
		m.Release()
		close(done)
	}()
	<-done

	r := w.Chunk(pos, PolicyNone)
	got := r.At(voxel.Cell{X: 5, Y: 5, Z: 5})
	r.Release()
	if got.Type().Name() != "stone" || got.Light() != 3 {
		t.Fatalf("acquisition after release: got (%q, %d)", got.Type().Name(), got.Light())
	}
}

func TestOverlappingExtendedMutableNoDeadlock(t *testing.T) {
	w := New(nil)
	for x := 0; x < 3; x++ {
		createChunkAt(t, w, ChunkPos{X: x})
	}

	var wg sync.WaitGroup
	for _, pos := range []ChunkPos{{X: 0}, {X: 1}, {X: 2}} {
		wg.Add(1)
		go func(pos ChunkPos) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ref := w.ExtendedMutableChunk(pos, PolicyNone)
				ref.SetLight(voxel.Cell{X: i % ChunkSize}, voxel.LightLevel(i%17))
				ref.MarkDirty(false)
				ref.Release()
			}
		}(pos)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("overlapping extended-mutable handles deadlocked")
	}
}

func TestVoxelAtUnloadedIsEmpty(t *testing.T) {
	w := New(nil)
	got := w.VoxelAt(VoxelPos{X: 100, Y: 100, Z: 100})
	if got.Type() != voxel.EmptyType {
		t.Fatalf("out-of-world read: got %q want empty", got.Type().Name())
	}
}

func TestExtendedMutableNeighborWriteNotifiesNeighbor(t *testing.T) {
	reg := voxel.NewRegistry(nil)
	stone := reg.Add(voxel.NewSimpleType("stone", "s.png", false, 0, false, true))

	w := New(nil)
	rec := &recListener{}
	w.SetChunkListener(rec)
	createChunkAt(t, w, ChunkPos{X: 0, Y: 0, Z: 0})
	createChunkAt(t, w, ChunkPos{X: 1, Y: 0, Z: 0})

	ref := w.ExtendedMutableChunk(ChunkPos{X: 0, Y: 0, Z: 0}, PolicyNone)
	if !ref.SetExtendedType(16, 0, 0, stone) {
		t.Fatal("neighbor write refused")
	}
	ref.Release()

	if got := rec.countFor(ChunkPos{X: 1, Y: 0, Z: 0}); got != 1 {
		t.Fatalf("neighbor listener calls: got %d want 1 (%v)", got, rec.snapshot())
	}
	if got := rec.countFor(ChunkPos{X: 0, Y: 0, Z: 0}); got != 0 {
		t.Fatalf("own-chunk listener calls: got %d want 0", got)
	}
	if v := w.VoxelAt(VoxelPos{X: 16, Y: 0, Z: 0}); v.Type().Name() != "stone" {
		t.Fatalf("neighbor cell after write: got %q", v.Type().Name())
	}
}

package world

import (
	"log"
	"sort"
	"sync"

	"voxelgrid.dev/internal/sim/voxel"
)

// MissingChunkPolicy selects what a chunk acquisition does when the chunk is
// not loaded.
type MissingChunkPolicy int

const (
	// PolicyNone returns an invalid handle.
	PolicyNone MissingChunkPolicy = iota
	// PolicyCreate creates an empty chunk.
	PolicyCreate
	// PolicyLoad creates the chunk and runs the loader synchronously.
	PolicyLoad
	// PolicyLoadAsync enqueues an async load and returns an invalid handle.
	PolicyLoadAsync
)

// ChunkListener observes dirty-bit consumption. It runs on the releasing
// goroutine after all locks are dropped, so it may re-acquire handles.
type ChunkListener interface {
	ChunkInvalidated(pos ChunkPos, lightDirty bool)
}

// ChunkLoader populates freshly created chunks.
type ChunkLoader interface {
	Load(c *ExtendedMutableRef)
	LoadAsync(w *World, pos ChunkPos)
	CancelLoadAsync(w *World, pos ChunkPos)
}

// World maps chunk positions to chunks. The map and every chunk's neighbor
// table are guarded by the world lock; cells are guarded by the per-chunk
// locks. Handle acquisition never holds the world lock while blocking on a
// chunk lock; UnloadChunks is the exception, taking each chunk's exclusive
// lock under the world write lock.
type World struct {
	mu     sync.RWMutex
	chunks map[ChunkPos]*Chunk

	loader   ChunkLoader
	listener ChunkListener

	log *log.Logger
}

func New(logger *log.Logger) *World {
	return &World{
		chunks: map[ChunkPos]*Chunk{},
		log:    logger,
	}
}

func (w *World) SetChunkLoader(l ChunkLoader) {
	w.mu.Lock()
	w.loader = l
	w.mu.Unlock()
}

func (w *World) SetChunkListener(l ChunkListener) {
	w.mu.Lock()
	w.listener = l
	w.mu.Unlock()
}

func (w *World) chunkLoader() ChunkLoader {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loader
}

func (w *World) notifyChunkInvalidated(pos ChunkPos, lightDirty bool) {
	w.mu.RLock()
	l := w.listener
	w.mu.RUnlock()
	if l != nil {
		l.ChunkInvalidated(pos, lightDirty)
	}
}

// Chunk acquires a plain (shared, own-chunk-only) handle.
func (w *World) Chunk(pos ChunkPos, policy MissingChunkPolicy) ChunkRef {
	c := w.resolve(pos, policy)
	if c == nil {
		return ChunkRef{}
	}
	c.mu.RLock()
	return ChunkRef{chunk: c}
}

// ExtendedChunk acquires a shared handle over the chunk and its loaded
// neighbors.
func (w *World) ExtendedChunk(pos ChunkPos, policy MissingChunkPolicy) ExtendedRef {
	c := w.resolve(pos, policy)
	if c == nil {
		return ExtendedRef{}
	}
	nbrs := w.snapshotNeighbors(c)
	return ExtendedRef{chunk: c, neighbors: nbrs, locked: lockSet(c, &nbrs, false)}
}

// MutableChunk acquires an exclusive handle on the chunk alone.
func (w *World) MutableChunk(pos ChunkPos, policy MissingChunkPolicy) MutableRef {
	c := w.resolve(pos, policy)
	if c == nil {
		return MutableRef{}
	}
	c.mu.Lock()
	return MutableRef{chunk: c}
}

// ExtendedMutableChunk acquires exclusive locks over the chunk and its
// loaded neighbors, permitting writes anywhere in the 3x3x3 region.
func (w *World) ExtendedMutableChunk(pos ChunkPos, policy MissingChunkPolicy) ExtendedMutableRef {
	c := w.resolve(pos, policy)
	if c == nil {
		return ExtendedMutableRef{}
	}
	nbrs := w.snapshotNeighbors(c)
	return ExtendedMutableRef{chunk: c, neighbors: nbrs, locked: lockSet(c, &nbrs, true)}
}

// CreateExtendedMutableChunk is the generator's acquisition: create-if-
// missing, reporting whether this call created the chunk.
func (w *World) CreateExtendedMutableChunk(pos ChunkPos) (ExtendedMutableRef, bool) {
	c, created := w.createChunk(pos)
	nbrs := w.snapshotNeighbors(c)
	return ExtendedMutableRef{chunk: c, neighbors: nbrs, locked: lockSet(c, &nbrs, true)}, created
}

// VoxelAt reads a single world-space voxel. Unloaded chunks read as empty.
func (w *World) VoxelAt(p VoxelPos) voxel.Value {
	cp, cell := p.Split()
	ref := w.Chunk(cp, PolicyNone)
	if !ref.Valid() {
		return voxel.EmptyValue()
	}
	defer ref.Release()
	return ref.At(cell)
}

// UnloadChunks removes chunks from the world, clearing neighbor back-links.
// Each chunk's exclusive lock is taken first, so in-flight mutators finish
// before the chunk is unlinked.
func (w *World) UnloadChunks(locations []ChunkPos) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, pos := range locations {
		c := w.chunks[pos]
		if c == nil {
			continue
		}
		c.mu.Lock()
		c.unsetNeighbors()
		c.mu.Unlock()
		delete(w.chunks, pos)
	}
}

// LoadedChunks returns the loaded chunk positions in lexicographic order.
func (w *World) LoadedChunks() []ChunkPos {
	w.mu.RLock()
	out := make([]ChunkPos, 0, len(w.chunks))
	for pos := range w.chunks {
		out = append(out, pos)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chunks)
}

func (w *World) resolve(pos ChunkPos, policy MissingChunkPolicy) *Chunk {
	w.mu.RLock()
	c := w.chunks[pos]
	w.mu.RUnlock()
	if c != nil {
		return c
	}
	switch policy {
	case PolicyCreate:
		c, _ = w.createChunk(pos)
		return c
	case PolicyLoad:
		return w.loadChunkSync(pos)
	case PolicyLoadAsync:
		if l := w.chunkLoader(); l != nil {
			l.LoadAsync(w, pos)
		}
	}
	return nil
}

func (w *World) createChunk(pos ChunkPos) (*Chunk, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.chunks[pos]; ok {
		return c, false
	}
	c := newChunk(w, pos)
	c.setNeighbors(w.chunks)
	w.chunks[pos] = c
	return c, true
}

func (w *World) loadChunkSync(pos ChunkPos) *Chunk {
	c, created := w.createChunk(pos)
	if created {
		l := w.chunkLoader()
		nbrs := w.snapshotNeighbors(c)
		ref := ExtendedMutableRef{chunk: c, neighbors: nbrs, locked: lockSet(c, &nbrs, true)}
		if l != nil {
			l.Load(&ref)
		}
		ref.Release()
	}
	return c
}

func (w *World) snapshotNeighbors(c *Chunk) [27]*Chunk {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return c.neighbors
}

// lockSet locks the center chunk plus its loaded neighbors in lexicographic
// position order, returning the chunks in acquisition order.
func lockSet(center *Chunk, nbrs *[27]*Chunk, exclusive bool) []*Chunk {
	set := make([]*Chunk, 0, 27)
	set = append(set, center)
	for _, n := range nbrs {
		if n != nil {
			set = append(set, n)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].pos.Less(set[j].pos) })
	for _, c := range set {
		if exclusive {
			c.mu.Lock()
		} else {
			c.mu.RLock()
		}
	}
	return set
}

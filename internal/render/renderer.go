// Package render keeps the client's chunk meshes: a queue-with-set of
// invalidated chunk locations fed by the world's chunk listener, and a
// builder that turns chunks into vertex data grouped by shader key. The GPU
// upload and draw calls live outside this package.
package render

import (
	"log"
	"sync"

	"voxelgrid.dev/internal/sim/voxel"
	"voxelgrid.dev/internal/sim/world"
)

// Mesh is the built geometry of one chunk, grouped by shader key.
type Mesh struct {
	Parts map[string][]voxel.VertexData
}

func (m *Mesh) VertexCount() int {
	n := 0
	for _, p := range m.Parts {
		n += len(p)
	}
	return n
}

type Renderer struct {
	world *world.World
	log   *log.Logger

	mu     sync.Mutex
	queue  []world.ChunkPos
	queued map[world.ChunkPos]struct{}
	meshes map[world.ChunkPos]*Mesh
	built  int
}

var _ world.ChunkListener = (*Renderer)(nil)

func New(w *world.World, logger *log.Logger) *Renderer {
	return &Renderer{
		world:  w,
		log:    logger,
		queued: map[world.ChunkPos]struct{}{},
		meshes: map[world.ChunkPos]*Mesh{},
	}
}

// ChunkInvalidated implements the world chunk listener: the dirtied chunk
// and its six axis neighbors need a mesh rebuild. Corner neighbors are left
// alone; the mesher only reads axis-adjacent cells across boundaries.
func (r *Renderer) ChunkInvalidated(pos world.ChunkPos, _ bool) {
	r.Invalidate(pos)
	for _, d := range [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
		r.Invalidate(world.ChunkPos{X: pos.X + d[0], Y: pos.Y + d[1], Z: pos.Z + d[2]})
	}
}

func (r *Renderer) Invalidate(pos world.ChunkPos) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queued[pos]; ok {
		return
	}
	r.queued[pos] = struct{}{}
	r.queue = append(r.queue, pos)
}

func (r *Renderer) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Mesh returns the last built mesh for a chunk, or nil.
func (r *Renderer) Mesh(pos world.ChunkPos) *Mesh {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meshes[pos]
}

func (r *Renderer) BuiltCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.built
}

// BuildInvalidated processes up to budget queued chunks and reports how many
// it processed. Chunks that are no longer loaded drop their meshes; they
// count toward the budget and the result.
func (r *Renderer) BuildInvalidated(budget int) int {
	n := 0
	for n < budget {
		pos, ok := r.popQueue()
		if !ok {
			break
		}
		r.build(pos)
		n++
	}
	return n
}

func (r *Renderer) popQueue() (world.ChunkPos, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return world.ChunkPos{}, false
	}
	pos := r.queue[0]
	r.queue = r.queue[1:]
	delete(r.queued, pos)
	return pos, true
}

func (r *Renderer) build(pos world.ChunkPos) {
	ref := r.world.ExtendedChunk(pos, world.PolicyNone)
	if !ref.Valid() {
		r.mu.Lock()
		delete(r.meshes, pos)
		r.mu.Unlock()
		return
	}
	parts := map[string][]voxel.VertexData{}
	var scratch []voxel.VertexData
	for z := 0; z < world.ChunkSize; z++ {
		for y := 0; y < world.ChunkSize; y++ {
			for x := 0; x < world.ChunkSize; x++ {
				v := ref.At(voxel.Cell{X: x, Y: y, Z: z})
				scratch = scratch[:0]
				v.BuildVertexData(&ref, x, y, z, &scratch)
				if len(scratch) == 0 {
					continue
				}
				key := v.ShaderKey()
				parts[key] = append(parts[key], scratch...)
			}
		}
	}
	ref.Release()

	r.mu.Lock()
	r.meshes[pos] = &Mesh{Parts: parts}
	r.built++
	r.mu.Unlock()
}

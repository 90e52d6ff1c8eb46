package world

import (
	"sync"

	"voxelgrid.dev/internal/sim/voxel"
)

// Chunk owns ChunkVolume voxel cells, a reader-writer lock, the dirty bits
// consumed on handle release, and links to the up-to-26 loaded neighbors.
// The neighbor table is read and written only under the world lock.
type Chunk struct {
	world *World
	pos   ChunkPos

	mu    sync.RWMutex
	cells [ChunkVolume]voxel.Value

	// Guarded by mu. lightDirty additionally requests light recomputation.
	dirty      bool
	lightDirty bool

	neighbors [27]*Chunk
}

func newChunk(w *World, pos ChunkPos) *Chunk {
	c := &Chunk{world: w, pos: pos}
	for i := range c.cells {
		c.cells[i] = voxel.EmptyValue()
	}
	return c
}

// at returns the cell for direct access; the caller guarantees the lock.
func (c *Chunk) at(cell voxel.Cell) *voxel.Value {
	return &c.cells[cellIndex(cell)]
}

func (c *Chunk) markDirty(alsoLight bool) {
	c.dirty = true
	if alsoLight {
		c.lightDirty = true
	}
}

// setNeighbors links c into the neighbor tables of every adjacent loaded
// chunk, both directions. Caller holds the world write lock.
func (c *Chunk) setNeighbors(chunks map[ChunkPos]*Chunk) {
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := chunks[c.pos.offset(dx, dy, dz)]
				if n == nil {
					continue
				}
				c.neighbors[neighborIndex(dx, dy, dz)] = n
				n.neighbors[neighborIndex(-dx, -dy, -dz)] = c
			}
		}
	}
}

// unsetNeighbors clears the back-links pointing at c. Caller holds the world
// write lock.
func (c *Chunk) unsetNeighbors() {
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				i := neighborIndex(dx, dy, dz)
				n := c.neighbors[i]
				if n == nil {
					continue
				}
				n.neighbors[neighborIndex(-dx, -dy, -dz)] = nil
				c.neighbors[i] = nil
			}
		}
	}
}

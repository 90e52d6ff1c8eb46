package world

import (
	"voxelgrid.dev/internal/sim/mathx"
	"voxelgrid.dev/internal/sim/voxel"
)

// The four scoped chunk handles. Acquisition goes through the World; release
// is explicit (callers defer Release). Operations on invalid handles panic,
// matching the core's no-structured-errors contract; callers check Valid
// first. Releasing twice is a no-op. Handles may be moved (returned, passed
// by pointer) but never copied: a copy would release the same locks twice.
//
// Lock modes:
//
//	ChunkRef            shared own lock
//	ExtendedRef         shared own + shared on loaded neighbors
//	MutableRef          exclusive own lock
//	ExtendedMutableRef  exclusive own + exclusive on loaded neighbors
//
// Multi-chunk handles take their locks in lexicographic chunk-position
// order, so overlapping neighborhoods on different goroutines cannot
// deadlock.

type ChunkRef struct {
	chunk *Chunk
}

func (r *ChunkRef) Valid() bool { return r.chunk != nil }

func (r *ChunkRef) Pos() ChunkPos { return r.chunk.pos }

func (r *ChunkRef) At(cell voxel.Cell) voxel.Value { return *r.chunk.at(cell) }

func (r *ChunkRef) Release() {
	if r.chunk == nil {
		return
	}
	r.chunk.mu.RUnlock()
	r.chunk = nil
}

type ExtendedRef struct {
	chunk     *Chunk
	neighbors [27]*Chunk
	locked    []*Chunk
}

func (r *ExtendedRef) Valid() bool { return r.chunk != nil }

func (r *ExtendedRef) Pos() ChunkPos { return r.chunk.pos }

func (r *ExtendedRef) At(cell voxel.Cell) voxel.Value { return *r.chunk.at(cell) }

func (r *ExtendedRef) HasNeighbor(dx, dy, dz int) bool {
	return r.neighbors[neighborIndex(dx, dy, dz)] != nil
}

// ExtendedAt reads an in-chunk location that may spill up to one chunk in
// any direction. Reads into unloaded (or farther) chunks return an empty
// voxel by value; no reference outlives the handle.
func (r *ExtendedRef) ExtendedAt(x, y, z int) voxel.Value {
	c, cell := extendedLocate(r.chunk, &r.neighbors, x, y, z)
	if c == nil {
		return voxel.EmptyValue()
	}
	return *c.at(cell)
}

func (r *ExtendedRef) Release() {
	if r.chunk == nil {
		return
	}
	for i := len(r.locked) - 1; i >= 0; i-- {
		r.locked[i].mu.RUnlock()
	}
	r.locked = nil
	r.neighbors = [27]*Chunk{}
	r.chunk = nil
}

type MutableRef struct {
	chunk *Chunk
}

func (r *MutableRef) Valid() bool { return r.chunk != nil }

func (r *MutableRef) Pos() ChunkPos { return r.chunk.pos }

func (r *MutableRef) At(cell voxel.Cell) voxel.Value { return *r.chunk.at(cell) }

// SetType replaces a cell's type, preserving its light level. The caller
// marks the chunk dirty when done mutating.
func (r *MutableRef) SetType(cell voxel.Cell, t voxel.Type) { r.chunk.at(cell).SetType(t) }

func (r *MutableRef) SetLight(cell voxel.Cell, l voxel.LightLevel) { r.chunk.at(cell).SetLight(l) }

func (r *MutableRef) SetValue(cell voxel.Cell, v voxel.Value) { *r.chunk.at(cell) = v }

func (r *MutableRef) MarkDirty(alsoLight bool) { r.chunk.markDirty(alsoLight) }

// Release consumes the dirty bit, drops the lock, and then fires the world's
// chunk listener, so the listener may re-acquire any handle freely.
func (r *MutableRef) Release() {
	if r.chunk == nil {
		return
	}
	c := r.chunk
	r.chunk = nil
	dirty, light := c.dirty, c.lightDirty
	c.dirty, c.lightDirty = false, false
	w := c.world
	pos := c.pos
	c.mu.Unlock()
	if dirty {
		w.notifyChunkInvalidated(pos, light)
	}
}

type ExtendedMutableRef struct {
	chunk     *Chunk
	neighbors [27]*Chunk
	locked    []*Chunk
}

var _ voxel.ChunkWriter = (*ExtendedMutableRef)(nil)

func (r *ExtendedMutableRef) Valid() bool { return r.chunk != nil }

func (r *ExtendedMutableRef) Pos() ChunkPos { return r.chunk.pos }

func (r *ExtendedMutableRef) At(cell voxel.Cell) voxel.Value { return *r.chunk.at(cell) }

func (r *ExtendedMutableRef) SetType(cell voxel.Cell, t voxel.Type) { r.chunk.at(cell).SetType(t) }

func (r *ExtendedMutableRef) SetLight(cell voxel.Cell, l voxel.LightLevel) {
	r.chunk.at(cell).SetLight(l)
}

func (r *ExtendedMutableRef) SetValue(cell voxel.Cell, v voxel.Value) { *r.chunk.at(cell) = v }

func (r *ExtendedMutableRef) MarkDirty(alsoLight bool) { r.chunk.markDirty(alsoLight) }

func (r *ExtendedMutableRef) HasNeighbor(dx, dy, dz int) bool {
	return r.neighbors[neighborIndex(dx, dy, dz)] != nil
}

func (r *ExtendedMutableRef) ExtendedAt(x, y, z int) voxel.Value {
	c, cell := extendedLocate(r.chunk, &r.neighbors, x, y, z)
	if c == nil {
		return voxel.EmptyValue()
	}
	return *c.at(cell)
}

// SetExtendedType writes a cell anywhere in the locked 3x3x3 region and
// marks the touched chunk dirty. Returns false when the target chunk is not
// loaded.
func (r *ExtendedMutableRef) SetExtendedType(x, y, z int, t voxel.Type) bool {
	c, cell := extendedLocate(r.chunk, &r.neighbors, x, y, z)
	if c == nil {
		return false
	}
	c.at(cell).SetType(t)
	c.markDirty(false)
	return true
}

func (r *ExtendedMutableRef) SetExtendedLight(x, y, z int, l voxel.LightLevel) bool {
	c, cell := extendedLocate(r.chunk, &r.neighbors, x, y, z)
	if c == nil {
		return false
	}
	c.at(cell).SetLight(l)
	c.markDirty(false)
	return true
}

// Release consumes the dirty bit of every chunk in the locked set, drops all
// locks, then fires the listener once per dirtied chunk.
func (r *ExtendedMutableRef) Release() {
	if r.chunk == nil {
		return
	}
	w := r.chunk.world
	type dirtied struct {
		pos   ChunkPos
		light bool
	}
	var notes []dirtied
	for i := len(r.locked) - 1; i >= 0; i-- {
		c := r.locked[i]
		if c.dirty {
			notes = append(notes, dirtied{c.pos, c.lightDirty})
			c.dirty, c.lightDirty = false, false
		}
		c.mu.Unlock()
	}
	r.locked = nil
	r.neighbors = [27]*Chunk{}
	r.chunk = nil
	for _, n := range notes {
		w.notifyChunkInvalidated(n.pos, n.light)
	}
}

// extendedLocate resolves an out-of-range in-chunk coordinate to the chunk
// in the 3x3x3 set that owns it. Locations more than one chunk away resolve
// to nil (read as empty).
func extendedLocate(center *Chunk, neighbors *[27]*Chunk, x, y, z int) (*Chunk, voxel.Cell) {
	dx := mathx.FloorDiv(x, ChunkSize)
	dy := mathx.FloorDiv(y, ChunkSize)
	dz := mathx.FloorDiv(z, ChunkSize)
	cell := voxel.Cell{
		X: mathx.Mod(x, ChunkSize),
		Y: mathx.Mod(y, ChunkSize),
		Z: mathx.Mod(z, ChunkSize),
	}
	if dx == 0 && dy == 0 && dz == 0 {
		return center, cell
	}
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 || dz < -1 || dz > 1 {
		return nil, cell
	}
	return neighbors[neighborIndex(dx, dy, dz)], cell
}

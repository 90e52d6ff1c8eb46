package world

import (
	"voxelgrid.dev/internal/sim/mathx"
	"voxelgrid.dev/internal/sim/voxel"
)

// ChunkSize is the chunk edge length in voxels.
const ChunkSize = 16

// ChunkVolume is the cell count of one chunk.
const ChunkVolume = ChunkSize * ChunkSize * ChunkSize

// ChunkPos is a chunk coordinate (world voxel coordinate floor-divided by
// ChunkSize).
type ChunkPos struct{ X, Y, Z int }

// VoxelPos is a world-space voxel coordinate.
type VoxelPos struct{ X, Y, Z int }

// Split decomposes a world voxel position into its chunk and in-chunk parts.
// Floor division, so negative coordinates map correctly.
func (p VoxelPos) Split() (ChunkPos, voxel.Cell) {
	cp := ChunkPos{
		X: mathx.FloorDiv(p.X, ChunkSize),
		Y: mathx.FloorDiv(p.Y, ChunkSize),
		Z: mathx.FloorDiv(p.Z, ChunkSize),
	}
	cell := voxel.Cell{
		X: mathx.Mod(p.X, ChunkSize),
		Y: mathx.Mod(p.Y, ChunkSize),
		Z: mathx.Mod(p.Z, ChunkSize),
	}
	return cp, cell
}

// Compose rebuilds the world position of an in-chunk cell.
func Compose(cp ChunkPos, cell voxel.Cell) VoxelPos {
	return VoxelPos{
		X: cp.X*ChunkSize + cell.X,
		Y: cp.Y*ChunkSize + cell.Y,
		Z: cp.Z*ChunkSize + cell.Z,
	}
}

// Less orders chunk positions lexicographically (X, then Y, then Z). This is
// the global lock-acquisition order for multi-chunk handles.
func (c ChunkPos) Less(o ChunkPos) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

func (c ChunkPos) offset(dx, dy, dz int) ChunkPos {
	return ChunkPos{c.X + dx, c.Y + dy, c.Z + dz}
}

// cellIndex lays cells out z-major, x fastest.
func cellIndex(c voxel.Cell) int {
	return (c.Z*ChunkSize+c.Y)*ChunkSize + c.X
}

// neighborIndex maps a (dx,dy,dz) offset in [-1,1]^3 into the flat 27-slot
// neighbor table. Slot 13 (the center) stays nil.
func neighborIndex(dx, dy, dz int) int {
	return (dx + 1) + (dy+1)*3 + (dz+1)*3*3
}

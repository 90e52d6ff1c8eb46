package world

import (
	"bytes"
	"io"

	"voxelgrid.dev/internal/sim/voxel"
)

// EncodeChunk serializes a chunk payload: the type-name table followed by
// every cell in storage order (x fastest, then y, then z). The table is
// refreshed first so types registered after the table was built still
// serialize.
func EncodeChunk(r *ChunkRef, table *voxel.TypeTable) ([]byte, error) {
	table.Update()
	var buf bytes.Buffer
	if err := table.Encode(&buf); err != nil {
		return nil, err
	}
	for z := 0; z < ChunkSize; z++ {
		for y := 0; y < ChunkSize; y++ {
			for x := 0; x < ChunkSize; x++ {
				v := r.At(voxel.Cell{X: x, Y: y, Z: z})
				if err := table.EncodeValue(&buf, &v); err != nil {
					return nil, err
				}
			}
		}
	}
	return buf.Bytes(), nil
}

// DecodeChunk reads a chunk payload into a mutable handle, resolving the
// embedded name table against the local registry. Names this process never
// registered decode into unknown-type placeholders.
func DecodeChunk(m *MutableRef, reg *voxel.Registry, r io.Reader) error {
	table, err := voxel.DecodeTypeTable(r, reg)
	if err != nil {
		return err
	}
	for z := 0; z < ChunkSize; z++ {
		for y := 0; y < ChunkSize; y++ {
			for x := 0; x < ChunkSize; x++ {
				var v voxel.Value
				if err := table.DecodeValue(r, &v); err != nil {
					return err
				}
				m.SetValue(voxel.Cell{X: x, Y: y, Z: z}, v)
			}
		}
	}
	return nil
}

package voxel

import (
	"io"
	"time"
)

// LightLevel is a per-cell light value in [0, MaxLightLevel].
type LightLevel int8

const MaxLightLevel LightLevel = 16

// MaxExtraData bounds the per-type payload stored inline in every cell, so
// chunk storage stays a contiguous array with a fixed stride.
const MaxExtraData = 16

// Cell is an in-chunk voxel location. It lives here rather than in the world
// package because world imports voxel; world uses this type directly.
type Cell struct{ X, Y, Z int }

// VertexData is one mesh vertex emitted by BuildVertexData.
type VertexData struct {
	X, Y, Z float32
	U, V    float32
}

// ChunkReader is the read surface a type descriptor gets while building
// geometry: an extended chunk handle whose in-chunk coordinates may fall one
// chunk outside the own chunk. Missing neighbors read as empty.
type ChunkReader interface {
	ExtendedAt(x, y, z int) Value
}

// ChunkWriter is the mutation surface handed to Update/SlowUpdate: an
// extended-mutable handle. The Set calls report false when the target cell
// lies in a neighbor that is not loaded.
type ChunkWriter interface {
	ChunkReader
	SetExtendedType(x, y, z int, t Type) bool
	SetExtendedLight(x, y, z int, l LightLevel) bool
	MarkDirty(alsoLight bool)
}

// Type is a voxel behavior descriptor registered in a Registry. One
// descriptor instance serves every cell of its type; per-cell state lives in
// the Value's extra bytes.
type Type interface {
	Name() string

	// Init place-constructs the type's extra bytes in v. It must not touch
	// the light level.
	Init(v *Value)

	// SerializePayload and DeserializePayload handle only the type-specific
	// bytes; the type id and light level are framed by the TypeTable.
	SerializePayload(v *Value, w io.Writer) error
	DeserializePayload(v *Value, r io.Reader) error

	// ShaderKey is an opaque renderer grouping key (a texture key here).
	ShaderKey(v *Value) string

	BuildVertexData(c ChunkReader, x, y, z int, v *Value, out *[]VertexData)

	// Emission is the light level the voxel itself emits, independent of the
	// light stored in the cell.
	Emission(v *Value) LightLevel

	// Update advances scheduled per-voxel state; it returns true when the
	// voxel wants another update next tick. SlowUpdate runs on the periodic
	// sweep. Both may record cells whose meshes are now stale.
	Update(c ChunkWriter, x, y, z int, v *Value, dt time.Duration, invalidated map[Cell]struct{}) bool
	SlowUpdate(c ChunkWriter, x, y, z int, v *Value, invalidated map[Cell]struct{})

	HasDensity(v *Value) bool

	String(v *Value) string
}

// Value is one voxel cell: a type reference, a light level, and the type's
// inline payload. Cells are always fully constructed; the zero Value reads
// as the empty type.
type Value struct {
	typ   Type
	light LightLevel
	extra [MaxExtraData]byte
}

// EmptyValue is what out-of-world reads return.
func EmptyValue() Value {
	return Value{typ: EmptyType, light: MaxLightLevel}
}

func (v *Value) Type() Type {
	if v.typ == nil {
		return EmptyType
	}
	return v.typ
}

// SetType replaces the cell's type, reinitializing the payload while
// preserving the existing light level.
func (v *Value) SetType(t Type) {
	v.typ = t
	v.extra = [MaxExtraData]byte{}
	t.Init(v)
}

func (v *Value) Light() LightLevel { return v.light }

func (v *Value) SetLight(l LightLevel) {
	if l < 0 {
		l = 0
	}
	if l > MaxLightLevel {
		l = MaxLightLevel
	}
	v.light = l
}

// Extra exposes the inline per-type payload to the owning descriptor.
func (v *Value) Extra() *[MaxExtraData]byte { return &v.extra }

func (v *Value) Emission() LightLevel { return v.Type().Emission(v) }

func (v *Value) HasDensity() bool { return v.Type().HasDensity(v) }

func (v *Value) ShaderKey() string { return v.Type().ShaderKey(v) }

func (v *Value) String() string { return v.Type().String(v) }

func (v *Value) BuildVertexData(c ChunkReader, x, y, z int, out *[]VertexData) {
	v.Type().BuildVertexData(c, x, y, z, v, out)
}

func (v *Value) Update(c ChunkWriter, x, y, z int, dt time.Duration, invalidated map[Cell]struct{}) bool {
	return v.Type().Update(c, x, y, z, v, dt, invalidated)
}

func (v *Value) SlowUpdate(c ChunkWriter, x, y, z int, invalidated map[Cell]struct{}) {
	v.Type().SlowUpdate(c, x, y, z, v, invalidated)
}

package voxel

import (
	"io"
	"time"
)

// EmptyType is the designated type of unconstructed cells and out-of-world
// reads. It has no density, emits nothing, and renders nothing.
var EmptyType Type = emptyType{}

type emptyType struct{}

func (emptyType) Name() string                               { return "empty" }
func (emptyType) Init(*Value)                                {}
func (emptyType) SerializePayload(*Value, io.Writer) error   { return nil }
func (emptyType) DeserializePayload(*Value, io.Reader) error { return nil }
func (emptyType) ShaderKey(*Value) string                    { return "" }
func (emptyType) BuildVertexData(ChunkReader, int, int, int, *Value, *[]VertexData) {
}
func (emptyType) Emission(*Value) LightLevel { return 0 }
func (emptyType) Update(ChunkWriter, int, int, int, *Value, time.Duration, map[Cell]struct{}) bool {
	return false
}
func (emptyType) SlowUpdate(ChunkWriter, int, int, int, *Value, map[Cell]struct{}) {}
func (emptyType) HasDensity(*Value) bool                                           { return false }
func (emptyType) String(*Value) string                                             { return "empty" }

// NewAirType returns the registrable "air" type: like empty, but a real
// registered type so peers agree on its wire id.
func NewAirType() Type { return airType{} }

type airType struct{}

func (airType) Name() string                               { return "air" }
func (airType) Init(*Value)                                {}
func (airType) SerializePayload(*Value, io.Writer) error   { return nil }
func (airType) DeserializePayload(*Value, io.Reader) error { return nil }
func (airType) ShaderKey(*Value) string                    { return "" }
func (airType) BuildVertexData(ChunkReader, int, int, int, *Value, *[]VertexData) {
}
func (airType) Emission(*Value) LightLevel { return 0 }
func (airType) Update(ChunkWriter, int, int, int, *Value, time.Duration, map[Cell]struct{}) bool {
	return false
}
func (airType) SlowUpdate(ChunkWriter, int, int, int, *Value, map[Cell]struct{}) {}
func (airType) HasDensity(*Value) bool                                           { return false }
func (airType) String(*Value) string                                             { return "air" }

// SimpleType is a plain textured cube voxel.
type SimpleType struct {
	name        string
	texture     string
	unwrap      bool
	emission    LightLevel
	transparent bool
	density     bool
}

func NewSimpleType(name, texture string, unwrap bool, emission LightLevel, transparent, density bool) *SimpleType {
	return &SimpleType{
		name:        name,
		texture:     texture,
		unwrap:      unwrap,
		emission:    emission,
		transparent: transparent,
		density:     density,
	}
}

const unknownTexture = "assets/textures/unknown_block.png"

// NewUnknownType builds the placeholder registered for a voxel-type name
// received from a peer that this process has no real descriptor for. It
// renders with a fallback texture and otherwise behaves as plain stone.
func NewUnknownType(name string) *SimpleType {
	return NewSimpleType(name, unknownTexture, false, 0, false, true)
}

func (t *SimpleType) Name() string                               { return t.name }
func (t *SimpleType) Init(*Value)                                {}
func (t *SimpleType) SerializePayload(*Value, io.Writer) error   { return nil }
func (t *SimpleType) DeserializePayload(*Value, io.Reader) error { return nil }
func (t *SimpleType) ShaderKey(*Value) string                    { return t.texture }
func (t *SimpleType) Emission(*Value) LightLevel                 { return t.emission }
func (t *SimpleType) Update(ChunkWriter, int, int, int, *Value, time.Duration, map[Cell]struct{}) bool {
	return false
}
func (t *SimpleType) SlowUpdate(ChunkWriter, int, int, int, *Value, map[Cell]struct{}) {}
func (t *SimpleType) HasDensity(*Value) bool                                           { return t.density }
func (t *SimpleType) String(*Value) string                                             { return t.name }

// Faces in +x, -x, +y, -y, +z, -z order. Each face is two triangles.
var cubeFaces = [6]struct {
	dx, dy, dz int
	corners    [4][3]float32
}{
	{1, 0, 0, [4][3]float32{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{-1, 0, 0, [4][3]float32{{0, 0, 1}, {0, 1, 1}, {0, 1, 0}, {0, 0, 0}}},
	{0, 1, 0, [4][3]float32{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{0, -1, 0, [4][3]float32{{0, 0, 1}, {0, 0, 0}, {1, 0, 0}, {1, 0, 1}}},
	{0, 0, 1, [4][3]float32{{1, 0, 1}, {1, 1, 1}, {0, 1, 1}, {0, 0, 1}}},
	{0, 0, -1, [4][3]float32{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
}

var faceUV = [4][2]float32{{0, 1}, {0, 0}, {1, 0}, {1, 1}}

// BuildVertexData emits the cube faces whose axis neighbor has no density,
// reading across chunk boundaries through the extended handle.
func (t *SimpleType) BuildVertexData(c ChunkReader, x, y, z int, v *Value, out *[]VertexData) {
	for fi, f := range cubeFaces {
		n := c.ExtendedAt(x+f.dx, y+f.dy, z+f.dz)
		if n.HasDensity() {
			continue
		}
		emit := func(ci int) {
			u := faceUV[ci][0]
			if t.unwrap {
				// Unwrapped textures pack one strip per face.
				u = (u + float32(fi)) / 6
			}
			*out = append(*out, VertexData{
				X: float32(x) + f.corners[ci][0],
				Y: float32(y) + f.corners[ci][1],
				Z: float32(z) + f.corners[ci][2],
				U: u,
				V: faceUV[ci][1],
			})
		}
		for _, ci := range [6]int{0, 1, 2, 0, 2, 3} {
			emit(ci)
		}
	}
}

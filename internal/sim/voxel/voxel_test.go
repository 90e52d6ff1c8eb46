package voxel

import (
	"bytes"
	"testing"
)

func TestSetTypePreservesLight(t *testing.T) {
	grass := NewSimpleType("grass", "assets/textures/grass.png", true, 0, false, true)
	v := EmptyValue()
	v.SetLight(7)
	v.SetType(grass)
	if v.Light() != 7 {
		t.Fatalf("light after SetType: got %d want 7", v.Light())
	}
	if v.Type().Name() != "grass" {
		t.Fatalf("type after SetType: got %q", v.Type().Name())
	}
}

func TestZeroValueReadsEmpty(t *testing.T) {
	var v Value
	if v.Type() != EmptyType {
		t.Fatalf("zero value type: got %q", v.Type().Name())
	}
	if v.HasDensity() {
		t.Fatal("empty must have no density")
	}
	if v.Emission() != 0 {
		t.Fatalf("empty emission: got %d", v.Emission())
	}
}

func TestRegistryUnknownPlaceholder(t *testing.T) {
	reg := NewRegistry(nil)
	got := reg.Get("stone")
	if got.Name() != "stone" {
		t.Fatalf("placeholder name: got %q", got.Name())
	}
	if got.ShaderKey(nil) != unknownTexture {
		t.Fatalf("placeholder texture: got %q", got.ShaderKey(nil))
	}
	// Placeholder is registered, so the next lookup returns the same one.
	if reg.Get("stone") != got {
		t.Fatal("placeholder not stable across lookups")
	}
	if reg.Get("empty") != EmptyType {
		t.Fatal("empty must resolve to the empty singleton")
	}
}

func TestTypeTableNegotiation(t *testing.T) {
	// Peer A registers grass and dirt only.
	regA := NewRegistry(nil)
	grass := regA.Add(NewSimpleType("grass", "assets/textures/grass.png", true, 0, false, true))
	regA.Add(NewSimpleType("dirt", "assets/textures/mud.png", false, 0, false, true))

	tableA := NewTypeTable(regA)
	if got := tableA.Names(); len(got) != 3 || got[0] != "empty" || got[1] != "grass" || got[2] != "dirt" {
		t.Fatalf("table names: got %v", got)
	}
	if tableA.ID(grass) != 1 {
		t.Fatalf("grass id: got %d want 1", tableA.ID(grass))
	}

	var buf bytes.Buffer
	if err := tableA.Encode(&buf); err != nil {
		t.Fatalf("encode table: %v", err)
	}
	v := EmptyValue()
	v.SetType(grass)
	v.SetLight(9)
	if err := tableA.EncodeValue(&buf, &v); err != nil {
		t.Fatalf("encode value: %v", err)
	}

	// Peer B has no grass type at all; decoding must register a placeholder.
	regB := NewRegistry(nil)
	tableB, err := DecodeTypeTable(&buf, regB)
	if err != nil {
		t.Fatalf("decode table: %v", err)
	}
	if tableB.Len() != 3 {
		t.Fatalf("decoded table len: got %d want 3", tableB.Len())
	}
	var out Value
	if err := tableB.DecodeValue(&buf, &out); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if out.Type().Name() != "grass" {
		t.Fatalf("decoded type: got %q want grass", out.Type().Name())
	}
	if out.Light() != 9 {
		t.Fatalf("decoded light: got %d want 9", out.Light())
	}
	if out.ShaderKey() != unknownTexture {
		t.Fatalf("decoded placeholder texture: got %q", out.ShaderKey())
	}
}

func TestTypeTableUpdateKeepsIds(t *testing.T) {
	reg := NewRegistry(nil)
	grass := reg.Add(NewSimpleType("grass", "g.png", false, 0, false, true))
	table := NewTypeTable(reg)
	id := table.ID(grass)
	reg.Add(NewSimpleType("stone", "s.png", false, 0, false, true))
	table.Update()
	if table.ID(grass) != id {
		t.Fatalf("grass id changed after Update: %d -> %d", id, table.ID(grass))
	}
	if table.Len() != 3 {
		t.Fatalf("table len after Update: got %d want 3", table.Len())
	}
}

func TestManifestValidation(t *testing.T) {
	reg := NewRegistry(nil)
	good := `[
		{"name": "lamp", "texture": "assets/textures/lamp.png", "emission": 16},
		{"name": "glass", "texture": "assets/textures/glass.png", "transparent": true, "density": false}
	]`
	n, err := RegisterManifest([]byte(good), reg)
	if err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}
	if n != 2 {
		t.Fatalf("registered count: got %d want 2", n)
	}
	lamp := reg.Get("lamp")
	if lamp.Emission(nil) != 16 {
		t.Fatalf("lamp emission: got %d", lamp.Emission(nil))
	}
	if reg.Get("glass").HasDensity(nil) {
		t.Fatal("glass must have no density")
	}

	bad := `[{"name": "lamp", "texture": "x.png", "emission": 40}]`
	if _, err := RegisterManifest([]byte(bad), NewRegistry(nil)); err == nil {
		t.Fatal("emission out of range must fail validation")
	}
}

type fakeReader struct{ dense map[[3]int]bool }

func (f fakeReader) ExtendedAt(x, y, z int) Value {
	v := EmptyValue()
	if f.dense[[3]int{x, y, z}] {
		v.SetType(NewSimpleType("stone", "s.png", false, 0, false, true))
	}
	return v
}

func TestSimpleTypeFaceCulling(t *testing.T) {
	stone := NewSimpleType("stone", "s.png", false, 0, false, true)
	v := EmptyValue()
	v.SetType(stone)

	// Fully exposed: 6 faces x 6 vertices.
	var out []VertexData
	stone.BuildVertexData(fakeReader{dense: map[[3]int]bool{}}, 0, 0, 0, &v, &out)
	if len(out) != 36 {
		t.Fatalf("exposed cube vertices: got %d want 36", len(out))
	}

	// One covered face drops 6 vertices.
	out = out[:0]
	stone.BuildVertexData(fakeReader{dense: map[[3]int]bool{{1, 0, 0}: true}}, 0, 0, 0, &v, &out)
	if len(out) != 30 {
		t.Fatalf("covered face vertices: got %d want 30", len(out))
	}
}

package voxel

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxTypeNameLen = 127

// TypeTable is the session-local wire mapping between uint16 type ids and
// type names. The registry is not globally numbered (either peer may define
// types), so every chunk transfer carries the sender's table and the
// receiver rebuilds its own view of it.
type TypeTable struct {
	reg   *Registry
	names []string
	ids   map[string]uint16
}

// NewTypeTable builds a table over the registry's current contents. Id 0 is
// always the empty type, followed by registered types in registration order.
func NewTypeTable(reg *Registry) *TypeTable {
	t := &TypeTable{
		reg: reg,
		ids: map[string]uint16{},
	}
	t.names = append(t.names, "empty")
	t.ids["empty"] = 0
	t.Update()
	return t
}

// Update appends types registered since the table was built. Existing ids
// never change, so a long-lived connection can keep one table.
func (t *TypeTable) Update() {
	for _, name := range t.reg.Names() {
		if _, ok := t.ids[name]; ok {
			continue
		}
		t.ids[name] = uint16(len(t.names))
		t.names = append(t.names, name)
	}
}

func (t *TypeTable) Len() int { return len(t.names) }

func (t *TypeTable) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// ID returns the wire id for a descriptor; unknown descriptors fall back to
// the empty id so serialization never fails mid-chunk.
func (t *TypeTable) ID(typ Type) uint16 {
	if id, ok := t.ids[typ.Name()]; ok {
		return id
	}
	return 0
}

func (t *TypeTable) ByID(id uint16) (Type, bool) {
	if int(id) >= len(t.names) {
		return nil, false
	}
	return t.reg.Get(t.names[id]), true
}

// Encode writes the length-prefixed name sequence.
func (t *TypeTable) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(t.names))); err != nil {
		return err
	}
	for _, name := range t.names {
		if len(name) > maxTypeNameLen {
			return fmt.Errorf("voxel type name too long: %q", name)
		}
		if _, err := w.Write([]byte{byte(len(name))}); err != nil {
			return err
		}
		if _, err := w.Write([]byte(name)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTypeTable reads a peer's name table, resolving every name through
// the registry (names this process never registered become placeholders).
func DecodeTypeTable(r io.Reader, reg *Registry) (*TypeTable, error) {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	t := &TypeTable{
		reg: reg,
		ids: map[string]uint16{},
	}
	var lenBuf [1]byte
	for i := 0; i < int(count); i++ {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(lenBuf[0])
		if n > maxTypeNameLen {
			return nil, fmt.Errorf("voxel type name length %d exceeds %d", n, maxTypeNameLen)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		name := string(buf)
		reg.Get(name)
		t.ids[name] = uint16(len(t.names))
		t.names = append(t.names, name)
	}
	return t, nil
}

// EncodeValue writes one voxel: type id, light level, type payload.
func (t *TypeTable) EncodeValue(w io.Writer, v *Value) error {
	if err := binary.Write(w, binary.LittleEndian, t.ID(v.Type())); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(v.Light())}); err != nil {
		return err
	}
	return v.Type().SerializePayload(v, w)
}

// DecodeValue reads one voxel into v.
func (t *TypeTable) DecodeValue(r io.Reader, v *Value) error {
	var id uint16
	if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
		return err
	}
	typ, ok := t.ByID(id)
	if !ok {
		return fmt.Errorf("voxel type id %d outside table of %d", id, len(t.names))
	}
	v.SetType(typ)
	var lightBuf [1]byte
	if _, err := io.ReadFull(r, lightBuf[:]); err != nil {
		return err
	}
	v.SetLight(LightLevel(int8(lightBuf[0])))
	return typ.DeserializePayload(v, r)
}

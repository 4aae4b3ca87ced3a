package archive

import (
	"bytes"
	"fmt"
	"strings"

	gIO "github.com/cfoust/framesync/pkg/game/io"
)

// Name is a fixed-width texture or flat name.
type Name [gIO.NameLength]byte

func NameOf(s string) Name {
	var name Name
	copy(name[:], strings.ToUpper(s))
	return name
}

func (n Name) String() string {
	end := bytes.IndexByte(n[:], 0)
	if end < 0 {
		end = len(n)
	}
	return string(n[:end])
}

func (n Name) IsEmpty() bool {
	return n == Name{}
}

// NameTable is the texture/flat variant of ThingTable. Unlike the thing
// table it is written into the archive itself, so that the reader can map
// names back onto whatever textures the engine has at load time.
type NameTable struct {
	label    string
	capacity int
	names    []Name
	index    map[Name]Handle
}

func NewNameTable(label string, capacity int) *NameTable {
	t := &NameTable{
		label:    label,
		capacity: capacity,
	}
	t.Clear()
	return t
}

func (t *NameTable) Clear() {
	t.names = make([]Name, 0)
	t.index = make(map[Name]Handle)
}

func (t *NameTable) Len() int {
	return len(t.names)
}

// Number returns the handle for name, registering it if needed. The empty
// name is the null texture.
func (t *NameTable) Number(name Name) (Handle, error) {
	if name.IsEmpty() {
		return NullHandle, nil
	}

	if handle, ok := t.index[name]; ok {
		return handle, nil
	}

	if len(t.names) >= t.capacity {
		return NullHandle, &CapacityError{Table: t.label, Capacity: t.capacity}
	}

	t.names = append(t.names, name)
	handle := Handle(len(t.names))
	t.index[name] = handle
	return handle, nil
}

func (t *NameTable) Name(handle Handle) (Name, error) {
	if handle == NullHandle {
		return Name{}, nil
	}
	if int(handle) > len(t.names) {
		return Name{}, &UnresolvedError{Table: t.label, Handle: handle}
	}
	return t.names[handle-1], nil
}

func (t *NameTable) Write(p *gIO.Buffer) {
	p.PutShort(int16(len(t.names)))
	for _, name := range t.names {
		p.PutName(name)
	}
}

func (t *NameTable) Read(r *gIO.Reader) error {
	t.Clear()

	count, err := r.GetShort()
	if err != nil {
		return err
	}

	if count < 0 || int(count) > t.capacity {
		return fmt.Errorf("%s archive claims %d entries (capacity %d)", t.label, count, t.capacity)
	}

	for i := 0; i < int(count); i++ {
		name, err := r.GetName()
		if err != nil {
			return err
		}
		t.names = append(t.names, Name(name))
		t.index[Name(name)] = Handle(i + 1)
	}

	return nil
}

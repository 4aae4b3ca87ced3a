package archive

import (
	"fmt"

	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
)

type Mode uint8

const (
	ModeWrite Mode = iota
	ModeRead
)

func (m Mode) String() string {
	if m == ModeRead {
		return "read"
	}
	return "write"
}

// Strict turns misuse of a pass into a panic. Tests and development builds
// set it.
var Strict = false

// MisuseError is a programming error: a pass used in the wrong direction or
// after it was closed.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("archive misuse in %s: %s", e.Op, e.Reason)
}

func misuse(op string, reason string) error {
	err := &MisuseError{Op: op, Reason: reason}
	if Strict {
		panic(err)
	}
	log.Error().Err(err).Msg("archive pass misused")
	return err
}

// Pass holds every handle table for a single save, load or frame. A pass
// must never be reused for another operation.
type Pass struct {
	Mode     Mode
	Things   *ThingTable[*world.Mobj]
	Textures *NameTable
	Flats    *NameTable

	closed bool
}

func NewPass(mode Mode, thingCapacity int) *Pass {
	return &Pass{
		Mode:     mode,
		Things:   NewThingTable[*world.Mobj]("thing", thingCapacity),
		Textures: NewNameTable("texture", MaxTextures),
		Flats:    NewNameTable("flat", MaxFlats),
	}
}

// InitArchives clears every table.
func (p *Pass) InitArchives() {
	p.Things.Clear()
	p.Textures.Clear()
	p.Flats.Clear()
	p.closed = false
}

// Close finalizes the pass. Any later use is misuse.
func (p *Pass) Close() {
	p.closed = true
}

func (p *Pass) Closed() bool {
	return p.closed
}

func (p *Pass) check(op string, mode Mode) error {
	if p.closed {
		return misuse(op, "pass already closed")
	}
	if p.Mode != mode {
		return misuse(op, fmt.Sprintf("called on a %s pass", p.Mode))
	}
	return nil
}

// ThingNum returns the handle for a map object during a write pass. Removed
// objects are never archived, so references to them become null.
func (p *Pass) ThingNum(mo *world.Mobj) (Handle, error) {
	if err := p.check("ThingNum", ModeWrite); err != nil {
		return NullHandle, err
	}
	if mo == nil || mo.Removed() {
		return NullHandle, nil
	}
	return p.Things.Number(mo)
}

// Register records an object reconstructed during a read pass.
func (p *Pass) Register(handle Handle, mo *world.Mobj) error {
	if err := p.check("Register", ModeRead); err != nil {
		return err
	}
	return p.Things.Set(handle, mo)
}

// Thing resolves a handle during a read pass.
func (p *Pass) Thing(handle Handle) (*world.Mobj, error) {
	if err := p.check("Thing", ModeRead); err != nil {
		return nil, err
	}
	return p.Things.Get(handle)
}

func nameNum(
	op string,
	table *NameTable,
	lookup func(int) (string, bool),
	num int,
) (Handle, error) {
	if num == world.NoTexture {
		return NullHandle, nil
	}

	name, ok := lookup(num)
	if !ok {
		log.Warn().
			Str("table", table.label).
			Int("index", num).
			Msgf("%s: unknown engine index, archived as none", op)
		return NullHandle, nil
	}

	return table.Number(NameOf(name))
}

func nameLookup(
	table *NameTable,
	lookup func(string) (int, bool),
	handle Handle,
) (int, error) {
	name, err := table.Name(handle)
	if err != nil {
		return world.NoTexture, err
	}
	if name.IsEmpty() {
		return world.NoTexture, nil
	}

	num, ok := lookup(name.String())
	if !ok {
		log.Warn().
			Str("table", table.label).
			Str("name", name.String()).
			Msg("archived name no longer exists, clearing")
		return world.NoTexture, nil
	}
	return num, nil
}

// TextureNum converts an engine texture index into a handle, registering its
// name in the texture table.
func (p *Pass) TextureNum(set world.TextureSet, num int) (Handle, error) {
	if err := p.check("TextureNum", ModeWrite); err != nil {
		return NullHandle, err
	}
	return nameNum("TextureNum", p.Textures, set.TextureName, num)
}

func (p *Pass) FlatNum(set world.TextureSet, num int) (Handle, error) {
	if err := p.check("FlatNum", ModeWrite); err != nil {
		return NullHandle, err
	}
	return nameNum("FlatNum", p.Flats, set.FlatName, num)
}

// Texture maps a handle back to the engine's current index for that name.
// Names the engine no longer knows are reported and cleared; only handles
// outside the table are an error.
func (p *Pass) Texture(set world.TextureSet, handle Handle) (int, error) {
	if err := p.check("Texture", ModeRead); err != nil {
		return world.NoTexture, err
	}
	return nameLookup(p.Textures, set.TextureNum, handle)
}

func (p *Pass) Flat(set world.TextureSet, handle Handle) (int, error) {
	if err := p.check("Flat", ModeRead); err != nil {
		return world.NoTexture, err
	}
	return nameLookup(p.Flats, set.FlatNum, handle)
}

package saveg

import (
	"fmt"

	"github.com/cfoust/framesync/pkg/archive"
	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"
)

// Result is a successfully loaded save.
type Result struct {
	Header *Header
	World  *world.World

	// Loaded reports which player slots were restored from the file. Slots
	// that were not are left as the new level created them.
	Loaded [world.MaxPlayers]bool
}

// reference is a pointer field waiting for its target to be read.
type reference struct {
	handle archive.Handle
	field  **world.Mobj
}

// Unarchiver reads one current-version save into a staging world. The
// sections are read in the same order they were written.
type Unarchiver struct {
	rules    world.Ruleset
	textures world.TextureSet
	pass     *archive.Pass
	machine  *machine
	r        *gIO.Reader

	header     *Header
	world      *world.World
	loaded     [world.MaxPlayers]bool
	references []reference
	players    [world.MaxPlayers]archive.Handle
}

// NewUnarchiver starts reading data just past the version field.
func NewUnarchiver(r *gIO.Reader, rules world.Ruleset) *Unarchiver {
	return &Unarchiver{
		rules:    rules,
		textures: rules.Textures(),
		pass:     archive.NewPass(archive.ModeRead, archive.MaxThings),
		machine:  newMachine(readOrder),
		r:        r,
	}
}

func (u *Unarchiver) State() State {
	return u.machine.State()
}

func (u *Unarchiver) fail(err error) error {
	u.machine.abort()
	return err
}

func (u *Unarchiver) ReadHeader() (*Header, error) {
	if err := u.machine.advance(ReadingHeader); err != nil {
		return nil, err
	}

	header := &Header{Magic: Magic, Version: Version}
	if err := readHeader(u.r, header); err != nil {
		return nil, u.fail(err)
	}

	if header.GameID != u.rules.GameID() {
		return nil, u.fail(fmt.Errorf("%w: %q", ErrWrongGame, header.GameID))
	}

	w, err := u.rules.NewLevel(header.Episode, header.Map, header.Skill)
	if err != nil {
		return nil, u.fail(err)
	}
	w.LevelTime = header.LevelTime

	u.header = header
	u.world = w
	return header, nil
}

func (u *Unarchiver) ReadArchiveTables() error {
	if err := u.machine.advance(ReadingArchiveTables); err != nil {
		return err
	}

	u.pass.InitArchives()
	if err := u.pass.Textures.Read(u.r); err != nil {
		return u.fail(err)
	}
	if err := u.pass.Flats.Read(u.r); err != nil {
		return u.fail(err)
	}
	return nil
}

// UnArchivePlayers restores every player present in the header.
func (u *Unarchiver) UnArchivePlayers() ([world.MaxPlayers]bool, error) {
	if err := u.machine.advance(ReadingPlayers); err != nil {
		return u.loaded, err
	}

	for i, present := range u.header.Present {
		if !present {
			continue
		}

		record := playerRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return u.loaded, u.fail(err)
		}
		if int(record.Slot) != i {
			return u.loaded, u.fail(fmt.Errorf(
				"player record for slot %d where %d was expected",
				record.Slot,
				i,
			))
		}

		record.to(&u.world.Players[i])
		u.players[i] = record.Mo
		u.loaded[i] = true
	}

	end, err := u.r.GetByte()
	if err != nil {
		return u.loaded, u.fail(err)
	}
	if end != playerRecordEnd {
		return u.loaded, u.fail(fmt.Errorf("player section ends with %#x", end))
	}

	return u.loaded, nil
}

func (u *Unarchiver) UnArchiveWorld() error {
	if err := u.machine.advance(ReadingWorld); err != nil {
		return err
	}

	if err := u.readSectors(); err != nil {
		return u.fail(err)
	}
	if err := u.readLines(); err != nil {
		return u.fail(err)
	}
	return nil
}

func (u *Unarchiver) readSectors() error {
	count, err := u.r.GetLong()
	if err != nil {
		return err
	}
	if int(count) != len(u.world.Sectors) {
		return fmt.Errorf(
			"save has %d sectors, level has %d",
			count,
			len(u.world.Sectors),
		)
	}

	for _, sector := range u.world.Sectors {
		record := sectorRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return err
		}

		sector.FloorHeight = record.FloorHeight
		sector.CeilingHeight = record.CeilingHeight
		sector.LightLevel = int32(record.LightLevel)
		sector.Special = int32(record.Special)
		sector.Tag = int32(record.Tag)

		if sector.FloorPic, err = u.pass.Flat(u.textures, record.FloorPic); err != nil {
			return err
		}
		if sector.CeilingPic, err = u.pass.Flat(u.textures, record.CeilingPic); err != nil {
			return err
		}

		u.references = append(u.references, reference{
			handle: record.SoundTarget,
			field:  &sector.SoundTarget,
		})
	}

	return nil
}

func (u *Unarchiver) readLines() error {
	count, err := u.r.GetLong()
	if err != nil {
		return err
	}
	if int(count) != len(u.world.Lines) {
		return fmt.Errorf(
			"save has %d lines, level has %d",
			count,
			len(u.world.Lines),
		)
	}

	for _, line := range u.world.Lines {
		record := lineRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return err
		}
		line.Flags = int32(record.Flags)
		line.Special = int32(record.Special)
		line.Tag = int32(record.Tag)

		for i, side := range line.Sides {
			present, err := u.r.GetBool()
			if err != nil {
				return err
			}
			if present != (side != nil) {
				return fmt.Errorf("line %d side %d does not match the level", line.Index, i)
			}
			if !present {
				continue
			}

			record := sideRecord{}
			if err := u.r.Unmarshal(&record); err != nil {
				return err
			}
			side.OffsetX = record.OffsetX
			side.OffsetY = record.OffsetY
			if side.TopTexture, err = u.pass.Texture(u.textures, record.TopTexture); err != nil {
				return err
			}
			if side.MiddleTexture, err = u.pass.Texture(u.textures, record.MiddleTexture); err != nil {
				return err
			}
			if side.BottomTexture, err = u.pass.Texture(u.textures, record.BottomTexture); err != nil {
				return err
			}
		}
	}

	return nil
}

// UnArchiveThinkers reads map objects until the end marker and then
// resolves every reference read so far.
func (u *Unarchiver) UnArchiveThinkers() error {
	if err := u.machine.advance(ReadingThinkers); err != nil {
		return err
	}

	if err := u.readMobjs(); err != nil {
		return u.fail(err)
	}
	if err := u.resolve(); err != nil {
		return u.fail(err)
	}
	return nil
}

func (u *Unarchiver) readMobjs() error {
	for {
		class, err := u.r.GetByte()
		if err != nil {
			return err
		}

		switch class {
		case tcEnd:
			return nil
		case tcMobj:
		default:
			return fmt.Errorf("unknown thinker class %d", class)
		}

		record := mobjRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return err
		}
		if record.Player < -1 || record.Player >= world.MaxPlayers {
			return corrupt(fmt.Errorf("object %d belongs to player %d", record.ID, record.Player))
		}

		mo := u.rules.SpawnMobj(record.Type)
		mo.ID = record.ID
		mo.Pos = record.Pos
		mo.Mom = record.Mom
		mo.Angle = world.Angle(record.Angle)
		mo.Flags = record.Flags
		mo.Health = record.Health
		mo.State = record.State
		mo.Tics = record.Tics
		mo.Player = record.Player

		if err := u.pass.Register(record.Handle, mo); err != nil {
			return err
		}

		u.references = append(
			u.references,
			reference{handle: record.Target, field: &mo.Target},
			reference{handle: record.Tracer, field: &mo.Tracer},
		)
		u.world.AddMobj(mo)
	}
}

func (u *Unarchiver) resolve() error {
	for _, ref := range u.references {
		mo, err := u.pass.Thing(ref.handle)
		if err != nil {
			return err
		}
		*ref.field = mo
	}
	u.references = nil

	for i, handle := range u.players {
		if !u.loaded[i] {
			continue
		}

		mo, err := u.pass.Thing(handle)
		if err != nil {
			return err
		}

		u.world.Players[i].Mo = mo
		if mo != nil {
			mo.Player = int32(i)
		}
	}

	return nil
}

func (u *Unarchiver) sector(index int32) (*world.Sector, error) {
	sector := u.world.Sector(int(index))
	if sector == nil {
		return nil, fmt.Errorf("special refers to sector %d of %d", index, len(u.world.Sectors))
	}
	return sector, nil
}

func (u *Unarchiver) readSpecial(class world.ThinkerClass) (world.Thinker, error) {
	switch class {
	case world.ClassCeiling:
		record := ceilingRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		return &world.Ceiling{
			Sector:       sector,
			Type:         record.Type,
			BottomHeight: record.BottomHeight,
			TopHeight:    record.TopHeight,
			Speed:        record.Speed,
			Crush:        record.Crush,
			Direction:    record.Direction,
			Tag:          record.Tag,
			OldDirection: record.OldDirection,
		}, nil
	case world.ClassDoor:
		record := doorRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		return &world.Door{
			Sector:       sector,
			Type:         record.Type,
			TopHeight:    record.TopHeight,
			Speed:        record.Speed,
			Direction:    record.Direction,
			TopWait:      record.TopWait,
			TopCountdown: record.TopCountdown,
		}, nil
	case world.ClassFloor:
		record := floorRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		texture, err := u.pass.Flat(u.textures, record.Texture)
		if err != nil {
			return nil, err
		}
		return &world.Floor{
			Sector:          sector,
			Type:            record.Type,
			Crush:           record.Crush,
			Direction:       record.Direction,
			NewSpecial:      record.NewSpecial,
			Texture:         texture,
			FloorDestHeight: record.FloorDestHeight,
			Speed:           record.Speed,
		}, nil
	case world.ClassPlat:
		record := platRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		return &world.Plat{
			Sector:    sector,
			Speed:     record.Speed,
			Low:       record.Low,
			High:      record.High,
			Wait:      record.Wait,
			Count:     record.Count,
			Status:    record.Status,
			OldStatus: record.OldStatus,
			Crush:     record.Crush,
			Tag:       record.Tag,
			Type:      record.Type,
		}, nil
	case world.ClassFlash:
		record := flashRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		return &world.LightFlash{
			Sector:   sector,
			Count:    record.Count,
			MaxLight: record.MaxLight,
			MinLight: record.MinLight,
			MaxTime:  record.MaxTime,
			MinTime:  record.MinTime,
		}, nil
	case world.ClassStrobe:
		record := strobeRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		return &world.Strobe{
			Sector:     sector,
			Count:      record.Count,
			MinLight:   record.MinLight,
			MaxLight:   record.MaxLight,
			DarkTime:   record.DarkTime,
			BrightTime: record.BrightTime,
		}, nil
	case world.ClassGlow:
		record := glowRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return nil, err
		}
		sector, err := u.sector(record.Sector)
		if err != nil {
			return nil, err
		}
		return &world.Glow{
			Sector:    sector,
			MinLight:  record.MinLight,
			MaxLight:  record.MaxLight,
			Direction: record.Direction,
		}, nil
	}

	return nil, fmt.Errorf(
		"unknown special class %d (expected one of %s)",
		class,
		validSpecials(),
	)
}

func validSpecials() string {
	return fmt.Sprintf(
		"%d-%d or end marker %#x",
		world.ClassCeiling,
		world.ClassGlow,
		tcEndSpecials,
	)
}

func (u *Unarchiver) UnArchiveSpecials() error {
	if err := u.machine.advance(ReadingSpecials); err != nil {
		return err
	}

	for {
		class, err := u.r.GetByte()
		if err != nil {
			return u.fail(err)
		}
		if class == tcEndSpecials {
			return nil
		}

		special, err := u.readSpecial(world.ThinkerClass(class))
		if err != nil {
			return u.fail(err)
		}
		u.world.Thinkers.Add(special)
	}
}

// Finish checks the consistency byte and hands back the loaded world.
func (u *Unarchiver) Finish() (*Result, error) {
	check, err := u.r.GetByte()
	if err != nil {
		return nil, u.fail(err)
	}
	if check != consistency {
		return nil, u.fail(fmt.Errorf("consistency check failed (%#x)", check))
	}

	if err := u.machine.advance(Done); err != nil {
		return nil, err
	}
	u.pass.Close()

	return &Result{
		Header: u.header,
		World:  u.world,
		Loaded: u.loaded,
	}, nil
}

type currentDecoder struct{}

func (currentDecoder) header(r *gIO.Reader) (*Header, error) {
	header := &Header{}
	return header, readHeader(r, header)
}

func (currentDecoder) decode(r *gIO.Reader, rules world.Ruleset) (*Result, error) {
	u := NewUnarchiver(r, rules)

	if _, err := u.ReadHeader(); err != nil {
		return nil, err
	}

	steps := []func() error{
		u.ReadArchiveTables,
		func() error {
			_, err := u.UnArchivePlayers()
			return err
		},
		u.UnArchiveWorld,
		u.UnArchiveThinkers,
		u.UnArchiveSpecials,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	return u.Finish()
}

func (currentDecoder) encode(w *world.World, rules world.Ruleset, description string) ([]byte, error) {
	return Encode(w, rules, description)
}

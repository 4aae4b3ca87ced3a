package saveg

import (
	"fmt"
	"math"

	"github.com/cfoust/framesync/pkg/archive"
	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
)

func short(field string, v int32) (int16, error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, &LoadError{
			Kind: Misuse,
			Err:  fmt.Errorf("%w: %s %d", ErrOutOfRange, field, v),
		}
	}
	return int16(v), nil
}

// Archiver writes one world into one save. The sections must be written in
// order: WriteHeader, WriteArchiveTables, ArchivePlayers, ArchiveWorld,
// ArchiveThinkers, ArchiveSpecials and then Finish.
type Archiver struct {
	world    *world.World
	gameID   string
	textures world.TextureSet
	pass     *archive.Pass
	machine  *machine
	p        gIO.Buffer
}

func NewArchiver(w *world.World, rules world.Ruleset) *Archiver {
	return &Archiver{
		world:    w,
		gameID:   rules.GameID(),
		textures: rules.Textures(),
		pass:     archive.NewPass(archive.ModeWrite, archive.MaxThings),
		machine:  newMachine(writeOrder),
	}
}

func (a *Archiver) State() State {
	return a.machine.State()
}

func (a *Archiver) WriteHeader(description string) error {
	if err := a.machine.advance(WritingHeader); err != nil {
		return err
	}

	header := Header{
		Version:     Version,
		GameID:      a.gameID,
		Description: description,
		Episode:     a.world.Episode,
		Map:         a.world.Map,
		Skill:       a.world.Skill,
		LevelTime:   a.world.LevelTime,
	}
	for i, player := range a.world.Players {
		header.Present[i] = player.InGame
	}

	return writeHeader(&a.p, &header)
}

// WriteArchiveTables numbers every live object and every texture in use,
// then writes the texture and flat tables. Every handle the later sections
// write is assigned here.
func (a *Archiver) WriteArchiveTables() error {
	if err := a.machine.advance(WritingArchiveTables); err != nil {
		return err
	}

	a.pass.InitArchives()

	for _, mo := range a.world.Mobjs() {
		if _, err := a.pass.ThingNum(mo); err != nil {
			return err
		}
	}

	for _, sector := range a.world.Sectors {
		if _, err := a.pass.FlatNum(a.textures, sector.FloorPic); err != nil {
			return err
		}
		if _, err := a.pass.FlatNum(a.textures, sector.CeilingPic); err != nil {
			return err
		}
	}

	for _, line := range a.world.Lines {
		for _, side := range line.Sides {
			if side == nil {
				continue
			}
			for _, num := range []int{side.TopTexture, side.MiddleTexture, side.BottomTexture} {
				if _, err := a.pass.TextureNum(a.textures, num); err != nil {
					return err
				}
			}
		}
	}

	var err error
	a.world.Thinkers.Iterate(func(th world.Thinker) bool {
		if floor, ok := th.(*world.Floor); ok && !floor.Removed() {
			_, err = a.pass.FlatNum(a.textures, floor.Texture)
		}
		return err == nil
	})
	if err != nil {
		return err
	}

	a.pass.Textures.Write(&a.p)
	a.pass.Flats.Write(&a.p)
	return nil
}

// ref converts a reference to a handle. Objects that were numbered in
// WriteArchiveTables are live; anything else is dropped.
func (a *Archiver) ref(mo *world.Mobj) (archive.Handle, error) {
	if mo == nil || mo.Removed() {
		return archive.NullHandle, nil
	}

	if _, ok := a.pass.Things.Lookup(mo); !ok {
		log.Warn().
			Uint16("id", mo.ID).
			Msg("reference to an unlinked object, archived as none")
		return archive.NullHandle, nil
	}

	return a.pass.ThingNum(mo)
}

func (a *Archiver) ArchivePlayers() error {
	if err := a.machine.advance(WritingPlayers); err != nil {
		return err
	}

	for i := range a.world.Players {
		player := &a.world.Players[i]
		if !player.InGame {
			continue
		}

		record := playerRecord{}
		record.from(i, player)

		mo, err := a.ref(player.Mo)
		if err != nil {
			return err
		}
		record.Mo = mo

		if err := a.p.Marshal(&record); err != nil {
			return err
		}
	}

	a.p.PutByte(playerRecordEnd)
	return nil
}

// ArchiveWorld writes the mutable state of sectors and lines.
func (a *Archiver) ArchiveWorld() error {
	if err := a.machine.advance(WritingWorld); err != nil {
		return err
	}

	a.p.PutLong(int32(len(a.world.Sectors)))
	for _, sector := range a.world.Sectors {
		floor, err := a.pass.FlatNum(a.textures, sector.FloorPic)
		if err != nil {
			return err
		}
		ceiling, err := a.pass.FlatNum(a.textures, sector.CeilingPic)
		if err != nil {
			return err
		}
		target, err := a.ref(sector.SoundTarget)
		if err != nil {
			return err
		}

		record := sectorRecord{
			FloorHeight:   sector.FloorHeight,
			CeilingHeight: sector.CeilingHeight,
			FloorPic:      floor,
			CeilingPic:    ceiling,
			SoundTarget:   target,
		}
		if record.LightLevel, err = short("sector light", sector.LightLevel); err != nil {
			return err
		}
		if record.Special, err = short("sector special", sector.Special); err != nil {
			return err
		}
		if record.Tag, err = short("sector tag", sector.Tag); err != nil {
			return err
		}

		if err := a.p.Marshal(&record); err != nil {
			return err
		}
	}

	a.p.PutLong(int32(len(a.world.Lines)))
	for _, line := range a.world.Lines {
		var (
			record lineRecord
			err    error
		)
		if record.Flags, err = short("line flags", line.Flags); err != nil {
			return err
		}
		if record.Special, err = short("line special", line.Special); err != nil {
			return err
		}
		if record.Tag, err = short("line tag", line.Tag); err != nil {
			return err
		}

		if err := a.p.Marshal(&record); err != nil {
			return err
		}

		for _, side := range line.Sides {
			a.p.PutBool(side != nil)
			if side == nil {
				continue
			}

			record := sideRecord{
				OffsetX: side.OffsetX,
				OffsetY: side.OffsetY,
			}
			if record.TopTexture, err = a.pass.TextureNum(a.textures, side.TopTexture); err != nil {
				return err
			}
			if record.MiddleTexture, err = a.pass.TextureNum(a.textures, side.MiddleTexture); err != nil {
				return err
			}
			if record.BottomTexture, err = a.pass.TextureNum(a.textures, side.BottomTexture); err != nil {
				return err
			}

			if err := a.p.Marshal(&record); err != nil {
				return err
			}
		}
	}

	return nil
}

// ArchiveThinkers writes every live map object. Removed objects are
// skipped.
func (a *Archiver) ArchiveThinkers() error {
	if err := a.machine.advance(WritingThinkers); err != nil {
		return err
	}

	for _, mo := range a.world.Mobjs() {
		handle, err := a.pass.ThingNum(mo)
		if err != nil {
			return err
		}

		record := mobjRecord{
			Handle: handle,
			ID:     mo.ID,
			Type:   mo.Type,
			Pos:    mo.Pos,
			Mom:    mo.Mom,
			Angle:  uint32(mo.Angle),
			Flags:  mo.Flags,
			Health: mo.Health,
			State:  mo.State,
			Tics:   mo.Tics,
			Player: mo.Player,
		}
		if record.Target, err = a.ref(mo.Target); err != nil {
			return err
		}
		if record.Tracer, err = a.ref(mo.Tracer); err != nil {
			return err
		}

		a.p.PutByte(tcMobj)
		if err := a.p.Marshal(&record); err != nil {
			return err
		}
	}

	a.p.PutByte(tcEnd)
	return nil
}

func sectorIndex(sector *world.Sector) int32 {
	if sector == nil {
		return -1
	}
	return int32(sector.Index)
}

func (a *Archiver) specialRecord(th world.Thinker) (interface{}, error) {
	switch special := th.(type) {
	case *world.Ceiling:
		return &ceilingRecord{
			Sector:       sectorIndex(special.Sector),
			Type:         special.Type,
			BottomHeight: special.BottomHeight,
			TopHeight:    special.TopHeight,
			Speed:        special.Speed,
			Crush:        special.Crush,
			Direction:    special.Direction,
			Tag:          special.Tag,
			OldDirection: special.OldDirection,
		}, nil
	case *world.Door:
		return &doorRecord{
			Sector:       sectorIndex(special.Sector),
			Type:         special.Type,
			TopHeight:    special.TopHeight,
			Speed:        special.Speed,
			Direction:    special.Direction,
			TopWait:      special.TopWait,
			TopCountdown: special.TopCountdown,
		}, nil
	case *world.Floor:
		texture, err := a.pass.FlatNum(a.textures, special.Texture)
		if err != nil {
			return nil, err
		}
		return &floorRecord{
			Sector:          sectorIndex(special.Sector),
			Type:            special.Type,
			Crush:           special.Crush,
			Direction:       special.Direction,
			NewSpecial:      special.NewSpecial,
			Texture:         texture,
			FloorDestHeight: special.FloorDestHeight,
			Speed:           special.Speed,
		}, nil
	case *world.Plat:
		return &platRecord{
			Sector:    sectorIndex(special.Sector),
			Speed:     special.Speed,
			Low:       special.Low,
			High:      special.High,
			Wait:      special.Wait,
			Count:     special.Count,
			Status:    special.Status,
			OldStatus: special.OldStatus,
			Crush:     special.Crush,
			Tag:       special.Tag,
			Type:      special.Type,
		}, nil
	case *world.LightFlash:
		return &flashRecord{
			Sector:   sectorIndex(special.Sector),
			Count:    special.Count,
			MaxLight: special.MaxLight,
			MinLight: special.MinLight,
			MaxTime:  special.MaxTime,
			MinTime:  special.MinTime,
		}, nil
	case *world.Strobe:
		return &strobeRecord{
			Sector:     sectorIndex(special.Sector),
			Count:      special.Count,
			MinLight:   special.MinLight,
			MaxLight:   special.MaxLight,
			DarkTime:   special.DarkTime,
			BrightTime: special.BrightTime,
		}, nil
	case *world.Glow:
		return &glowRecord{
			Sector:    sectorIndex(special.Sector),
			MinLight:  special.MinLight,
			MaxLight:  special.MaxLight,
			Direction: special.Direction,
		}, nil
	}

	return nil, fmt.Errorf("no record for thinker class %s", th.Class())
}

// ArchiveSpecials writes the sector effects: moving floors and ceilings,
// doors, platforms and lighting.
func (a *Archiver) ArchiveSpecials() error {
	if err := a.machine.advance(WritingSpecials); err != nil {
		return err
	}

	var err error
	a.world.Thinkers.Iterate(func(th world.Thinker) bool {
		if th.Removed() || th.Class() == world.ClassMobj {
			return true
		}

		var record interface{}
		record, err = a.specialRecord(th)
		if err != nil {
			return false
		}

		a.p.PutByte(byte(th.Class()))
		err = a.p.Marshal(record)
		return err == nil
	})
	if err != nil {
		return err
	}

	a.p.PutByte(tcEndSpecials)
	return nil
}

// Finish closes the pass and returns the uncompressed save.
func (a *Archiver) Finish() ([]byte, error) {
	if err := a.machine.advance(Done); err != nil {
		return nil, err
	}

	a.p.PutByte(consistency)
	a.pass.Close()
	return a.p, nil
}

// Encode writes a complete save of w.
func Encode(w *world.World, rules world.Ruleset, description string) ([]byte, error) {
	a := NewArchiver(w, rules)

	steps := []func() error{
		func() error { return a.WriteHeader(description) },
		a.WriteArchiveTables,
		a.ArchivePlayers,
		a.ArchiveWorld,
		a.ArchiveThinkers,
		a.ArchiveSpecials,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, classify(err)
		}
	}

	data, err := a.Finish()
	return data, classify(err)
}

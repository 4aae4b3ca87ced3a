package saveg

import (
	"bytes"
	"fmt"

	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"
)

// Version 4 saves predate the archive tables. Names are stored inline,
// heights and positions are 16.16 fixed point, objects carry no references
// to each other and thinkers and specials share one list.
const (
	legacyDescriptionLength = 24
	legacyMaxPlayers        = 4
	fracUnit                = 1 << 16
)

type legacyPlayerRecord struct {
	PlayerState   int32
	Health        int32
	Armor         int32
	ArmorType     int32
	ReadyWeapon   int32
	PendingWeapon int32
	Weapons       [world.NumWeapons]bool
	Ammo          [world.NumAmmo]int32
	MaxAmmo       [world.NumAmmo]int32
	Keys          [world.NumKeys]bool
	Powers        [world.NumPowers]int32
	Backpack      bool
	Kills         int32
	Items         int32
	Secrets       int32
}

type legacySectorRecord struct {
	FloorHeight   int16
	CeilingHeight int16
	FloorPic      [gIO.NameLength]byte
	CeilingPic    [gIO.NameLength]byte
	LightLevel    int16
	Special       int16
	Tag           int16
}

type legacySideRecord struct {
	TopTexture    [gIO.NameLength]byte
	MiddleTexture [gIO.NameLength]byte
	BottomTexture [gIO.NameLength]byte
	OffsetX       int16
	OffsetY       int16
}

type legacyMobjRecord struct {
	Type   int32
	Pos    [3]int32
	Mom    [3]int32
	Angle  uint32
	Flags  uint32
	Health int32
	State  int32
	Tics   int32
	// Slot plus one, zero for none.
	Player byte
}

func fixedToFloat(v int32) float32 {
	return float32(v) / fracUnit
}

func inlineName(name [gIO.NameLength]byte) string {
	end := bytes.IndexByte(name[:], 0)
	if end < 0 {
		end = len(name)
	}
	return string(bytes.ToUpper(name[:end]))
}

// legacyDecoder reads version 4 saves. It has no write path.
type legacyDecoder struct{}

func (legacyDecoder) encode(*world.World, world.Ruleset, string) ([]byte, error) {
	return nil, &LoadError{Kind: Misuse, Err: ErrLegacyWrite}
}

func (legacyDecoder) header(r *gIO.Reader) (*Header, error) {
	header := &Header{}

	description, err := r.GetBytes(legacyDescriptionLength)
	if err != nil {
		return nil, err
	}
	if end := bytes.IndexByte(description, 0); end >= 0 {
		description = description[:end]
	}
	header.Description = string(description)

	var episode, mapNum, skill byte
	err = r.Unmarshal(&episode, &mapNum, &skill, &header.LevelTime)
	if err != nil {
		return nil, err
	}
	header.Episode = int32(episode)
	header.Map = int32(mapNum)
	header.Skill = int32(skill)

	for i := 0; i < legacyMaxPlayers; i++ {
		header.Present[i], err = r.GetBool()
		if err != nil {
			return nil, err
		}
	}

	return header, nil
}

func (d legacyDecoder) decode(r *gIO.Reader, rules world.Ruleset) (*Result, error) {
	u := NewUnarchiver(r, rules)

	if err := u.machine.advance(ReadingHeader); err != nil {
		return nil, err
	}
	header, err := d.header(r)
	if err != nil {
		return nil, u.fail(err)
	}
	header.Magic = Magic
	header.GameID = rules.GameID()

	w, err := rules.NewLevel(header.Episode, header.Map, header.Skill)
	if err != nil {
		return nil, u.fail(err)
	}
	w.LevelTime = header.LevelTime
	u.header = header
	u.world = w

	// Nothing to read: there are no tables in this version.
	if err := u.machine.advance(ReadingArchiveTables); err != nil {
		return nil, err
	}
	u.pass.InitArchives()

	if err := u.machine.advance(ReadingPlayers); err != nil {
		return nil, err
	}
	if err := d.players(u); err != nil {
		return nil, u.fail(err)
	}

	if err := u.machine.advance(ReadingWorld); err != nil {
		return nil, err
	}
	if err := d.world(u); err != nil {
		return nil, u.fail(err)
	}

	// Mobjs and specials are interleaved, so both states are walked through
	// in one loop.
	if err := u.machine.advance(ReadingThinkers); err != nil {
		return nil, err
	}
	if err := u.machine.advance(ReadingSpecials); err != nil {
		return nil, err
	}
	if err := d.thinkers(u); err != nil {
		return nil, u.fail(err)
	}

	return u.Finish()
}

func (legacyDecoder) players(u *Unarchiver) error {
	for i, present := range u.header.Present {
		if !present {
			continue
		}

		record := legacyPlayerRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return err
		}

		player := &u.world.Players[i]
		player.InGame = true
		player.PlayerState = record.PlayerState
		player.Health = record.Health
		player.Armor = record.Armor
		player.ArmorType = record.ArmorType
		player.ReadyWeapon = record.ReadyWeapon
		player.PendingWeapon = record.PendingWeapon
		player.Weapons = record.Weapons
		player.Ammo = record.Ammo
		player.MaxAmmo = record.MaxAmmo
		player.Keys = record.Keys
		player.Powers = record.Powers
		player.Backpack = record.Backpack
		player.Kills = record.Kills
		player.Items = record.Items
		player.Secrets = record.Secrets

		u.loaded[i] = true
	}

	return nil
}

func legacyTexture(lookup func(string) (int, bool), name [gIO.NameLength]byte) int {
	str := inlineName(name)
	if str == "" || str == "-" {
		return world.NoTexture
	}
	num, ok := lookup(str)
	if !ok {
		return world.NoTexture
	}
	return num
}

func (legacyDecoder) world(u *Unarchiver) error {
	textures := u.textures

	for _, sector := range u.world.Sectors {
		record := legacySectorRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return err
		}

		sector.FloorHeight = float32(record.FloorHeight)
		sector.CeilingHeight = float32(record.CeilingHeight)
		sector.FloorPic = legacyTexture(textures.FlatNum, record.FloorPic)
		sector.CeilingPic = legacyTexture(textures.FlatNum, record.CeilingPic)
		sector.LightLevel = int32(record.LightLevel)
		sector.Special = int32(record.Special)
		sector.Tag = int32(record.Tag)
	}

	for _, line := range u.world.Lines {
		record := lineRecord{}
		if err := u.r.Unmarshal(&record); err != nil {
			return err
		}
		line.Flags = int32(record.Flags)
		line.Special = int32(record.Special)
		line.Tag = int32(record.Tag)

		for _, side := range line.Sides {
			if side == nil {
				continue
			}

			record := legacySideRecord{}
			if err := u.r.Unmarshal(&record); err != nil {
				return err
			}
			side.TopTexture = legacyTexture(textures.TextureNum, record.TopTexture)
			side.MiddleTexture = legacyTexture(textures.TextureNum, record.MiddleTexture)
			side.BottomTexture = legacyTexture(textures.TextureNum, record.BottomTexture)
			side.OffsetX = float32(record.OffsetX)
			side.OffsetY = float32(record.OffsetY)
		}
	}

	return nil
}

func (legacyDecoder) thinkers(u *Unarchiver) error {
	for {
		class, err := u.r.GetByte()
		if err != nil {
			return err
		}

		switch world.ThinkerClass(class) {
		case world.ClassNone:
			return nil
		case world.ClassMobj:
			record := legacyMobjRecord{}
			if err := u.r.Unmarshal(&record); err != nil {
				return err
			}

			mo := u.rules.SpawnMobj(record.Type)
			for i := range mo.Pos {
				mo.Pos[i] = fixedToFloat(record.Pos[i])
				mo.Mom[i] = fixedToFloat(record.Mom[i])
			}
			mo.Angle = world.Angle(record.Angle)
			mo.Flags = record.Flags
			mo.Health = record.Health
			mo.State = record.State
			mo.Tics = record.Tics
			mo.Player = -1

			if record.Player > 0 {
				slot := int(record.Player) - 1
				if slot >= legacyMaxPlayers || !u.loaded[slot] {
					return fmt.Errorf("object belongs to missing player %d", slot)
				}
				mo.Player = int32(slot)
				u.world.Players[slot].Mo = mo
			}

			u.world.AddMobj(mo)
		default:
			special, err := u.readSpecial(world.ThinkerClass(class))
			if err != nil {
				return err
			}
			u.world.Thinkers.Add(special)
		}
	}
}

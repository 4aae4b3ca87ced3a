// Package world holds the live simulation state that the archivers and the
// frame protocol read from and write to. The simulation owns everything in
// here; the sync core only borrows references for the length of one call.
package world

const (
	MaxPlayers = 16

	NumWeapons = 9
	NumAmmo    = 4
	NumKeys    = 6
	NumPowers  = 6

	// NoTexture is the engine index meaning "no texture on this surface".
	NoTexture = 0
)

type Vec3 [3]float32

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v Vec3) Scale(f float32) Vec3 {
	return Vec3{v[0] * f, v[1] * f, v[2] * f}
}

// Angle is a binary angle: the full circle is 2^32.
type Angle uint32

// Mobj flags the sync core cares about. Rulesets are free to use the
// remaining bits.
const (
	MF_SOLID     uint32 = 1 << 1
	MF_SHOOTABLE uint32 = 1 << 2
	MF_NOSECTOR  uint32 = 1 << 3
	MF_CORPSE    uint32 = 1 << 20
)

// Mobj is a map object.
type Mobj struct {
	thinkerBase

	// ID identifies the object on the wire for as long as it lives on the
	// server. Zero means unassigned.
	ID uint16

	Type   int32
	Pos    Vec3
	Mom    Vec3
	Angle  Angle
	Flags  uint32
	Health int32
	State  int32
	Tics   int32

	Target *Mobj
	Tracer *Mobj

	// Index into World.Players, or -1.
	Player int32
}

func (m *Mobj) Class() ThinkerClass {
	return ClassMobj
}

type Side struct {
	TopTexture    int
	MiddleTexture int
	BottomTexture int
	OffsetX       float32
	OffsetY       float32
}

type Line struct {
	Index   int
	Flags   int32
	Special int32
	Tag     int32
	Sides   [2]*Side
}

type Sector struct {
	Index         int
	FloorHeight   float32
	CeilingHeight float32
	FloorPic      int
	CeilingPic    int
	LightLevel    int32
	Special       int32
	Tag           int32

	// The thing that last made a noise in this sector.
	SoundTarget *Mobj
}

const (
	PlayerLive int32 = iota
	PlayerDead
	PlayerReborn
)

type Player struct {
	InGame bool
	Mo     *Mobj

	PlayerState   int32
	Health        int32
	Armor         int32
	ArmorType     int32
	ReadyWeapon   int32
	PendingWeapon int32
	Weapons       [NumWeapons]bool
	Ammo          [NumAmmo]int32
	MaxAmmo       [NumAmmo]int32
	Keys          [NumKeys]bool
	Powers        [NumPowers]int32
	Backpack      bool
	Kills         int32
	Items         int32
	Secrets       int32
	ViewZ         float32
	ViewHeight    float32

	// Sequence of the last input command applied to this player.
	CmdSeq uint32
}

// Ticcmd is one tic of player input.
type Ticcmd struct {
	Seq     uint32
	Forward int8
	Side    int8
	Turn    int16
	Buttons byte
}

type World struct {
	Players  [MaxPlayers]Player
	Sectors  []*Sector
	Lines    []*Line
	Thinkers ThinkerList

	Episode   int32
	Map       int32
	Skill     int32
	LevelTime int32

	nextID uint16
}

func NewWorld(sectors []*Sector, lines []*Line) *World {
	for i, sector := range sectors {
		sector.Index = i
	}
	for i, line := range lines {
		line.Index = i
	}

	return &World{
		Sectors: sectors,
		Lines:   lines,
	}
}

// AddMobj links a map object into the thinker list, giving it a network id
// if it does not have one yet.
func (w *World) AddMobj(mo *Mobj) {
	if mo.ID == 0 {
		w.nextID++
		if w.nextID == 0 {
			w.nextID = 1
		}
		mo.ID = w.nextID
	} else if mo.ID > w.nextID {
		w.nextID = mo.ID
	}
	w.Thinkers.Add(mo)
}

// Mobjs returns every live map object in thinker order.
func (w *World) Mobjs() []*Mobj {
	mobjs := make([]*Mobj, 0)
	w.Thinkers.Iterate(func(th Thinker) bool {
		if mo, ok := th.(*Mobj); ok && !mo.Removed() {
			mobjs = append(mobjs, mo)
		}
		return true
	})
	return mobjs
}

func (w *World) FindMobj(id uint16) *Mobj {
	var found *Mobj
	w.Thinkers.Iterate(func(th Thinker) bool {
		if mo, ok := th.(*Mobj); ok && !mo.Removed() && mo.ID == id {
			found = mo
			return false
		}
		return true
	})
	return found
}

func (w *World) Sector(index int) *Sector {
	if index < 0 || index >= len(w.Sectors) {
		return nil
	}
	return w.Sectors[index]
}

// RunCommand applies one tic of input to the player in slot and records it
// as the last command the player acknowledged.
func (w *World) RunCommand(rules Ruleset, slot int, cmd Ticcmd) bool {
	if slot < 0 || slot >= MaxPlayers {
		return false
	}

	player := &w.Players[slot]
	if !player.InGame || player.Mo == nil {
		return false
	}

	rules.Move(player.Mo, cmd)
	player.CmdSeq = cmd.Seq
	return true
}

package world

import "fmt"

// Sandbox is a minimal ruleset: square sectors in a row, objects that slide
// along their momentum until friction stops them, and input that moves a
// player directly.
type Sandbox struct {
	NumSectors int
	// Sounds hears the sounds the level makes. May be nil.
	Sounds   SoundPlayer
	textures *TextureTable
}

const (
	// Fraction of its momentum an object keeps each tic.
	Friction = 0.90625
	// Below this on every axis an object comes to rest.
	StopSpeed = 0.0625

	SoundStop int32 = 1
)

func NewSandbox() *Sandbox {
	return &Sandbox{
		NumSectors: 4,
		textures: NewTextureTable(
			[]string{"STARTAN3", "BROWN1", "COMPBLUE", "DOOR3", "SUPPORT2"},
			[]string{"FLOOR4_8", "CEIL3_5", "NUKAGE1", "FLAT14"},
		),
	}
}

func (s *Sandbox) GameID() string {
	return "sandbox"
}

func (s *Sandbox) Textures() TextureSet {
	return s.textures
}

func (s *Sandbox) NewLevel(episode, mapNum, skill int32) (*World, error) {
	if mapNum < 1 {
		return nil, fmt.Errorf("no such map E%dM%d", episode, mapNum)
	}

	sectors := make([]*Sector, s.NumSectors)
	lines := make([]*Line, s.NumSectors)
	for i := range sectors {
		sectors[i] = &Sector{
			FloorHeight:   float32(i * 8),
			CeilingHeight: 128,
			FloorPic:      1 + i%2,
			CeilingPic:    2,
			LightLevel:    160,
			Tag:           int32(i),
		}

		line := &Line{Flags: 1}
		line.Sides[0] = &Side{MiddleTexture: 1 + i%3}
		if i > 0 {
			line.Sides[1] = &Side{TopTexture: 2, BottomTexture: 5}
		}
		lines[i] = line
	}

	w := NewWorld(sectors, lines)
	w.Episode = episode
	w.Map = mapNum
	w.Skill = skill
	return w, nil
}

func (s *Sandbox) SpawnMobj(kind int32) *Mobj {
	return &Mobj{
		Type:   kind,
		Health: 100,
		Flags:  MF_SOLID | MF_SHOOTABLE,
		Player: -1,
	}
}

func (s *Sandbox) Move(mo *Mobj, cmd Ticcmd) {
	mo.Angle += Angle(uint32(uint16(cmd.Turn)) << 16)
	mo.Pos[0] += float32(cmd.Forward)
	mo.Pos[1] += float32(cmd.Side)
}

// Tick advances the level by one tic.
func (s *Sandbox) Tick(w *World) {
	w.LevelTime++
	for _, mo := range w.Mobjs() {
		if mo.Mom == (Vec3{}) {
			continue
		}

		mo.Pos = mo.Pos.Add(mo.Mom)
		mo.Mom = mo.Mom.Scale(Friction)

		if abs(mo.Mom[0]) < StopSpeed && abs(mo.Mom[1]) < StopSpeed && abs(mo.Mom[2]) < StopSpeed {
			mo.Mom = Vec3{}
			if s.Sounds != nil {
				s.Sounds.StartSound(SoundStop, mo, nil, 1)
			}
		}
	}
	w.Thinkers.Compact()
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

var _ Ruleset = (*Sandbox)(nil)

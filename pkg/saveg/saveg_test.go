package saveg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cfoust/framesync/pkg/archive"
	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLevel(t *testing.T, rules *world.Sandbox) *world.World {
	w, err := rules.NewLevel(1, 2, 3)
	require.NoError(t, err)
	w.LevelTime = 350
	return w
}

func addPlayer(w *world.World, rules *world.Sandbox, slot int) *world.Mobj {
	mo := rules.SpawnMobj(1)
	mo.Player = int32(slot)
	mo.Pos = world.Vec3{float32(slot) * 64, 32, 0}
	w.AddMobj(mo)

	player := &w.Players[slot]
	player.InGame = true
	player.Mo = mo
	player.Health = 100 - int32(slot)
	player.Ammo[0] = 50
	player.Weapons[1] = true
	player.Keys[2] = true
	player.ViewHeight = 41
	return mo
}

func sampleWorld(t *testing.T, rules *world.Sandbox) *world.World {
	w := newLevel(t, rules)

	p0 := addPlayer(w, rules, 0)
	addPlayer(w, rules, 2)

	imp := rules.SpawnMobj(3001)
	imp.Pos = world.Vec3{100, 200, 0}
	imp.Mom = world.Vec3{1, -1, 0}
	imp.Angle = 0x40000000
	imp.Target = p0
	w.AddMobj(imp)

	// targets something that is gone
	dead := rules.SpawnMobj(3002)
	w.AddMobj(dead)
	barrel := rules.SpawnMobj(2035)
	barrel.Tracer = dead
	w.AddMobj(barrel)
	dead.Remove()

	w.Sectors[1].SoundTarget = imp
	w.Sectors[2].LightLevel = 255

	w.Thinkers.Add(&world.Door{
		Sector:    w.Sectors[1],
		TopHeight: 120,
		Speed:     2,
		Direction: 1,
		TopWait:   150,
	})
	w.Thinkers.Add(&world.Floor{
		Sector:          w.Sectors[3],
		Texture:         3,
		FloorDestHeight: -8,
		Speed:           1,
	})
	w.Thinkers.Add(&world.Glow{
		Sector:    w.Sectors[0],
		MinLight:  96,
		MaxLight:  160,
		Direction: -1,
	})

	return w
}

func TestRoundTrip(t *testing.T) {
	rules := world.NewSandbox()
	w := sampleWorld(t, rules)

	data, err := Encode(w, rules, "before the door")
	require.NoError(t, err)

	result, err := Decode(data, rules)
	require.NoError(t, err)

	assert.Equal(t, "before the door", result.Header.Description)
	assert.Equal(t, "sandbox", result.Header.GameID)
	assert.Equal(t, Version, result.Header.Version)

	loaded := result.World
	assert.Equal(t, int32(1), loaded.Episode)
	assert.Equal(t, int32(2), loaded.Map)
	assert.Equal(t, int32(3), loaded.Skill)
	assert.Equal(t, int32(350), loaded.LevelTime)

	mobjs := loaded.Mobjs()
	require.Len(t, mobjs, 4)

	p0 := loaded.Players[0].Mo
	require.NotNil(t, p0)
	assert.Equal(t, int32(0), p0.Player)
	assert.Equal(t, int32(100), loaded.Players[0].Health)
	assert.Equal(t, int32(98), loaded.Players[2].Health)
	assert.True(t, loaded.Players[2].Weapons[1])
	assert.Equal(t, float32(41), loaded.Players[2].ViewHeight)

	imp := loaded.FindMobj(w.Mobjs()[2].ID)
	require.NotNil(t, imp)
	assert.Equal(t, int32(3001), imp.Type)
	assert.Equal(t, world.Vec3{100, 200, 0}, imp.Pos)
	assert.Equal(t, world.Angle(0x40000000), imp.Angle)
	assert.Same(t, p0, imp.Target)
	assert.Same(t, imp, loaded.Sectors[1].SoundTarget)

	barrel := mobjs[3]
	assert.Equal(t, int32(2035), barrel.Type)
	assert.Nil(t, barrel.Tracer)

	assert.Equal(t, int32(255), loaded.Sectors[2].LightLevel)
	assert.Equal(t, w.Lines[1].Sides[1].TopTexture, loaded.Lines[1].Sides[1].TopTexture)

	var specials []world.Thinker
	loaded.Thinkers.Iterate(func(th world.Thinker) bool {
		if th.Class() != world.ClassMobj {
			specials = append(specials, th)
		}
		return true
	})
	require.Len(t, specials, 3)

	door, ok := specials[0].(*world.Door)
	require.True(t, ok)
	assert.Same(t, loaded.Sectors[1], door.Sector)
	assert.Equal(t, int32(150), door.TopWait)

	floor, ok := specials[1].(*world.Floor)
	require.True(t, ok)
	assert.Equal(t, 3, floor.Texture)

	glow, ok := specials[2].(*world.Glow)
	require.True(t, ok)
	assert.Equal(t, int32(-1), glow.Direction)
}

func TestPartialPlayers(t *testing.T) {
	rules := world.NewSandbox()
	w := newLevel(t, rules)
	addPlayer(w, rules, 0)
	addPlayer(w, rules, 2)

	data, err := Encode(w, rules, "two players")
	require.NoError(t, err)

	result, err := Decode(data, rules)
	require.NoError(t, err)

	expected := [world.MaxPlayers]bool{true, false, true}
	assert.Equal(t, expected, result.Loaded)
	assert.False(t, result.World.Players[1].InGame)
	assert.Nil(t, result.World.Players[1].Mo)
	assert.Equal(t, int32(0), result.World.Players[3].Health)
}

func TestTruncatedLoad(t *testing.T) {
	rules := world.NewSandbox()
	dir := t.TempDir()
	system := NewSaveSystem(dir, rules)

	w := sampleWorld(t, rules)
	w.Thinkers.Iterate(func(th world.Thinker) bool {
		if th.Class() != world.ClassMobj {
			th.Remove()
		}
		return true
	})
	system.SetCurrent(w)

	require.NoError(t, system.SaveGame(0, "complete"))

	data, err := Encode(w, rules, "cut short")
	require.NoError(t, err)

	// end marker, special terminator and consistency byte follow the last
	// object; this cuts into it
	path := filepath.Join(dir, "truncated.fsg")
	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))

	_, err = system.LoadGameFile(path)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	assert.True(t, gIO.IsUnderrun(err))
	assert.Same(t, w, system.Current())

	result, err := system.LoadGame(0)
	require.NoError(t, err)
	assert.Same(t, result.World, system.Current())
	assert.Len(t, result.World.Mobjs(), 4)
}

func TestBadChecksum(t *testing.T) {
	rules := world.NewSandbox()
	system := NewSaveSystem(t.TempDir(), rules)
	w := newLevel(t, rules)
	system.SetCurrent(w)

	require.NoError(t, system.SaveGame(0, "crc"))

	path := system.SlotPath(0)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, byte(0x1f), data[0])

	// the gzip trailer is the CRC-32 then the length
	data[len(data)-8] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = system.LoadGame(0)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	assert.Same(t, w, system.Current())
}

func TestOutOfRangeWrite(t *testing.T) {
	rules := world.NewSandbox()

	for _, set := range []func(w *world.World){
		func(w *world.World) { w.Sectors[0].LightLevel = 70000 },
		func(w *world.World) { w.Sectors[1].Special = -40000 },
		func(w *world.World) { w.Sectors[2].Tag = 32768 },
		func(w *world.World) { w.Lines[0].Special = 1 << 20 },
		func(w *world.World) { w.Lines[1].Tag = -32769 },
	} {
		w := newLevel(t, rules)
		set(w)

		_, err := Encode(w, rules, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOutOfRange)
		var saveErr *LoadError
		require.True(t, errors.As(err, &saveErr))
		assert.Equal(t, Misuse, saveErr.Kind)
	}

	// the edges still fit
	w := newLevel(t, rules)
	w.Sectors[0].Tag = 32767
	w.Lines[0].Special = -32768
	data, err := Encode(w, rules, "")
	require.NoError(t, err)

	result, err := Decode(data, rules)
	require.NoError(t, err)
	assert.Equal(t, int32(32767), result.World.Sectors[0].Tag)
	assert.Equal(t, int32(-32768), result.World.Lines[0].Special)
}

func TestBadMobjPlayer(t *testing.T) {
	rules := world.NewSandbox()

	for _, player := range []int32{-2, world.MaxPlayers, 1 << 30} {
		w := newLevel(t, rules)
		mo := rules.SpawnMobj(1)
		mo.Player = player
		w.AddMobj(mo)

		data, err := Encode(w, rules, "")
		require.NoError(t, err)

		_, err = Decode(data, rules)
		require.Error(t, err)
		assert.True(t, IsCorrupt(err), "player %d", player)
	}
}

func TestBadSpecialClass(t *testing.T) {
	rules := world.NewSandbox()
	w := newLevel(t, rules)
	w.Thinkers.Add(&world.Glow{Sector: w.Sectors[0]})

	data, err := Encode(w, rules, "")
	require.NoError(t, err)

	// class byte, 16 byte record, terminator, consistency
	offset := len(data) - 19
	require.Equal(t, byte(world.ClassGlow), data[offset])
	data[offset] = 0x42

	_, err = Decode(data, rules)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
	assert.Contains(t, err.Error(), "unknown special class 66")
}

func TestConsistencyByte(t *testing.T) {
	rules := world.NewSandbox()
	data, err := Encode(newLevel(t, rules), rules, "")
	require.NoError(t, err)

	data[len(data)-1] = 0
	_, err = Decode(data, rules)
	assert.True(t, IsCorrupt(err))
}

func TestWrongVersion(t *testing.T) {
	rules := world.NewSandbox()
	data, err := Encode(newLevel(t, rules), rules, "")
	require.NoError(t, err)

	data[4] = 9
	_, err = Decode(data, rules)
	assert.True(t, IsCorrupt(err))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

type otherGame struct {
	*world.Sandbox
}

func (otherGame) GameID() string {
	return "other"
}

func TestWrongGame(t *testing.T) {
	rules := world.NewSandbox()
	data, err := Encode(newLevel(t, rules), rules, "")
	require.NoError(t, err)

	_, err = Decode(data, otherGame{rules})
	assert.ErrorIs(t, err, ErrWrongGame)
}

func TestOutOfOrder(t *testing.T) {
	rules := world.NewSandbox()
	a := NewArchiver(newLevel(t, rules), rules)

	err := a.ArchivePlayers()
	var misuse *archive.MisuseError
	require.True(t, errors.As(err, &misuse))
	assert.Equal(t, Idle, a.State())

	require.NoError(t, a.WriteHeader("x"))
	require.NoError(t, a.WriteArchiveTables())
	err = a.ArchiveWorld()
	assert.True(t, errors.As(err, &misuse))
	assert.Equal(t, WritingArchiveTables, a.State())
}

func TestAbortIsTerminal(t *testing.T) {
	rules := world.NewSandbox()
	data, err := Encode(newLevel(t, rules), rules, "")
	require.NoError(t, err)

	r := gIO.NewReader(data[:20])
	_, _, err = readPrefix(r)
	require.NoError(t, err)

	u := NewUnarchiver(r, rules)
	_, err = u.ReadHeader()
	require.Error(t, err)
	assert.Equal(t, CorruptAbort, u.State())

	err = u.ReadArchiveTables()
	var misuse *archive.MisuseError
	assert.True(t, errors.As(err, &misuse))
}

func TestLegacyWrite(t *testing.T) {
	rules := world.NewSandbox()
	_, err := EncodeVersion(LegacyVersion, newLevel(t, rules), rules, "")
	assert.ErrorIs(t, err, ErrLegacyWrite)

	_, err = EncodeVersion(Version, newLevel(t, rules), rules, "")
	assert.NoError(t, err)
}

func legacyName(name string) [gIO.NameLength]byte {
	var out [gIO.NameLength]byte
	copy(out[:], name)
	return out
}

func legacySave(t *testing.T) []byte {
	p := gIO.Buffer{}
	p.PutLong(Magic)
	p.PutLong(LegacyVersion)

	description := make([]byte, legacyDescriptionLength)
	copy(description, "old save")
	p.Put(description)

	require.NoError(t, p.Marshal(byte(1), byte(4), byte(2), int32(70)))
	// players 0 and 1 of 4
	p.Put([]byte{1, 1, 0, 0})

	for _, health := range []int32{80, 60} {
		require.NoError(t, p.Marshal(&legacyPlayerRecord{Health: health, Kills: 3}))
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Marshal(&legacySectorRecord{
			FloorHeight:   int16(i * 16),
			CeilingHeight: 96,
			FloorPic:      legacyName("nukage1"),
			CeilingPic:    legacyName("GONE"),
			LightLevel:    192,
		}))
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Marshal(&lineRecord{Flags: 4}))
		sides := 1
		if i > 0 {
			sides = 2
		}
		for j := 0; j < sides; j++ {
			require.NoError(t, p.Marshal(&legacySideRecord{
				MiddleTexture: legacyName("COMPBLUE"),
				TopTexture:    legacyName("-"),
			}))
		}
	}

	p.PutByte(byte(world.ClassMobj))
	require.NoError(t, p.Marshal(&legacyMobjRecord{
		Type:   1,
		Pos:    [3]int32{64 << 16, -(32 << 16), 0},
		Health: 80,
		Player: 2,
	}))
	p.PutByte(byte(world.ClassGlow))
	require.NoError(t, p.Marshal(&glowRecord{Sector: 2, MinLight: 10, MaxLight: 200}))
	p.PutByte(byte(world.ClassNone))
	p.PutByte(consistency)

	return p
}

func TestLegacyRead(t *testing.T) {
	rules := world.NewSandbox()
	data := legacySave(t)

	header, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, "old save", header.Description)
	assert.Equal(t, LegacyVersion, header.Version)

	result, err := Decode(data, rules)
	require.NoError(t, err)

	w := result.World
	assert.Equal(t, int32(4), w.Map)
	assert.Equal(t, [world.MaxPlayers]bool{true, true}, result.Loaded)
	assert.Equal(t, int32(60), w.Players[1].Health)

	mo := w.Players[1].Mo
	require.NotNil(t, mo)
	assert.Equal(t, world.Vec3{64, -32, 0}, mo.Pos)
	assert.Nil(t, w.Players[0].Mo)

	nukage, _ := rules.Textures().FlatNum("NUKAGE1")
	assert.Equal(t, nukage, w.Sectors[3].FloorPic)
	assert.Equal(t, world.NoTexture, w.Sectors[3].CeilingPic)
	assert.Equal(t, float32(48), w.Sectors[3].FloorHeight)

	compblue, _ := rules.Textures().TextureNum("COMPBLUE")
	assert.Equal(t, compblue, w.Lines[2].Sides[1].MiddleTexture)
	assert.Equal(t, world.NoTexture, w.Lines[2].Sides[1].TopTexture)

	var glow *world.Glow
	w.Thinkers.Iterate(func(th world.Thinker) bool {
		glow, _ = th.(*world.Glow)
		return glow == nil
	})
	require.NotNil(t, glow)
	assert.Same(t, w.Sectors[2], glow.Sector)
}

func TestSaveDescription(t *testing.T) {
	rules := world.NewSandbox()
	system := NewSaveSystem(t.TempDir(), rules)
	system.SetCurrent(newLevel(t, rules))

	require.NoError(t, system.SaveGame(3, "entryway"))

	description, err := system.GetSaveDescription(system.SlotPath(3))
	require.NoError(t, err)
	assert.Equal(t, "entryway", description)

	_, err = system.GetSaveDescription(system.SlotPath(4))
	var saveErr *LoadError
	require.True(t, errors.As(err, &saveErr))
	assert.Equal(t, IO, saveErr.Kind)
}

func TestSaveWithoutGame(t *testing.T) {
	system := NewSaveSystem(t.TempDir(), world.NewSandbox())
	err := system.SaveGame(0, "")
	var saveErr *LoadError
	require.True(t, errors.As(err, &saveErr))
	assert.Equal(t, Misuse, saveErr.Kind)
}

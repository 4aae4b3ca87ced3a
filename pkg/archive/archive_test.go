package archive

import (
	"errors"
	"fmt"
	"testing"

	gIO "github.com/cfoust/framesync/pkg/game/io"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStability(t *testing.T) {
	pass := NewPass(ModeWrite, MaxThings)
	a := &world.Mobj{}
	b := &world.Mobj{}

	first, err := pass.ThingNum(a)
	require.NoError(t, err)
	second, err := pass.ThingNum(b)
	require.NoError(t, err)
	again, err := pass.ThingNum(a)
	require.NoError(t, err)

	assert.Equal(t, Handle(1), first)
	assert.Equal(t, Handle(2), second)
	assert.Equal(t, first, again)

	null, err := pass.ThingNum(nil)
	require.NoError(t, err)
	assert.Equal(t, NullHandle, null)
}

func TestRemovedThingIsNull(t *testing.T) {
	pass := NewPass(ModeWrite, MaxThings)
	mo := &world.Mobj{}
	mo.Remove()

	handle, err := pass.ThingNum(mo)
	require.NoError(t, err)
	assert.Equal(t, NullHandle, handle)
	assert.Equal(t, 0, pass.Things.Len())
}

func TestReadPass(t *testing.T) {
	pass := NewPass(ModeRead, MaxThings)
	mo := &world.Mobj{}

	require.NoError(t, pass.Register(3, mo))

	found, err := pass.Thing(3)
	require.NoError(t, err)
	assert.Same(t, mo, found)

	null, err := pass.Thing(NullHandle)
	require.NoError(t, err)
	assert.Nil(t, null)

	_, err = pass.Thing(4)
	var unresolved *UnresolvedError
	assert.True(t, errors.As(err, &unresolved))

	err = pass.Register(3, &world.Mobj{})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestThingCapacity(t *testing.T) {
	table := NewThingTable[*world.Mobj]("thing", 2)
	_, err := table.Number(&world.Mobj{})
	require.NoError(t, err)
	_, err = table.Number(&world.Mobj{})
	require.NoError(t, err)

	_, err = table.Number(&world.Mobj{})
	assert.True(t, IsCapacity(err))
	assert.Equal(t, 2, table.Len())
}

func TestNumberSkipsExplicitHandles(t *testing.T) {
	table := NewThingTable[*world.Mobj]("thing", 10)
	require.NoError(t, table.Set(1, &world.Mobj{}))

	handle, err := table.Number(&world.Mobj{})
	require.NoError(t, err)
	assert.Equal(t, Handle(2), handle)
}

func TestTextureCapacity(t *testing.T) {
	table := NewNameTable("texture", MaxTextures)
	for i := 0; i < MaxTextures; i++ {
		handle, err := table.Number(NameOf(fmt.Sprintf("TEX%d", i)))
		require.NoError(t, err)
		assert.Equal(t, Handle(i+1), handle)
	}

	// re-registering an existing name still works when full
	handle, err := table.Number(NameOf("TEX0"))
	require.NoError(t, err)
	assert.Equal(t, Handle(1), handle)

	_, err = table.Number(NameOf("TEX1024"))
	require.Error(t, err)
	assert.True(t, IsCapacity(err))
	assert.Equal(t, MaxTextures, table.Len())

	name, err := table.Name(MaxTextures)
	require.NoError(t, err)
	assert.Equal(t, "TEX1023", name.String())
}

func TestNameTableRoundTrip(t *testing.T) {
	table := NewNameTable("flat", MaxFlats)
	_, err := table.Number(NameOf("floor4_8"))
	require.NoError(t, err)
	_, err = table.Number(NameOf("NUKAGE1"))
	require.NoError(t, err)

	p := gIO.Buffer{}
	table.Write(&p)

	read := NewNameTable("flat", MaxFlats)
	require.NoError(t, read.Read(gIO.NewReader(p)))
	assert.Equal(t, 2, read.Len())

	name, err := read.Name(1)
	require.NoError(t, err)
	assert.Equal(t, "FLOOR4_8", name.String())

	_, err = read.Name(3)
	var unresolved *UnresolvedError
	assert.True(t, errors.As(err, &unresolved))
}

func TestNameTableOversized(t *testing.T) {
	p := gIO.Buffer{}
	p.PutShort(5)

	table := NewNameTable("texture", 4)
	assert.Error(t, table.Read(gIO.NewReader(p)))
}

func TestTextureTranslation(t *testing.T) {
	saved := world.NewTextureTable([]string{"STARTAN3", "BROWN1"}, nil)
	loaded := world.NewTextureTable([]string{"BROWN1"}, nil)

	writer := NewPass(ModeWrite, MaxThings)
	startan, err := writer.TextureNum(saved, 1)
	require.NoError(t, err)
	brown, err := writer.TextureNum(saved, 2)
	require.NoError(t, err)
	none, err := writer.TextureNum(saved, world.NoTexture)
	require.NoError(t, err)
	assert.Equal(t, NullHandle, none)

	p := gIO.Buffer{}
	writer.Textures.Write(&p)

	reader := NewPass(ModeRead, MaxThings)
	require.NoError(t, reader.Textures.Read(gIO.NewReader(p)))

	// the name moved to another index
	num, err := reader.Texture(loaded, brown)
	require.NoError(t, err)
	assert.Equal(t, 1, num)

	// the name is gone: cleared, not fatal
	num, err = reader.Texture(loaded, startan)
	require.NoError(t, err)
	assert.Equal(t, world.NoTexture, num)
}

func TestMisuse(t *testing.T) {
	pass := NewPass(ModeRead, MaxThings)

	_, err := pass.ThingNum(&world.Mobj{})
	var misuse *MisuseError
	assert.True(t, errors.As(err, &misuse))

	pass.Close()
	err = pass.Register(1, &world.Mobj{})
	assert.True(t, errors.As(err, &misuse))

	Strict = true
	defer func() { Strict = false }()
	assert.Panics(t, func() {
		pass.Thing(1)
	})
}

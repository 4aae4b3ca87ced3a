package frame

import (
	"sync"
	"testing"

	"github.com/cfoust/framesync/pkg/archive"
	"github.com/cfoust/framesync/pkg/huffman"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seal(t *testing.T, rules world.Ruleset, frame *Frame, compress bool) []byte {
	body, err := frame.Marshal(rules.Textures())
	require.NoError(t, err)
	packet, err := Seal(body, compress)
	require.NoError(t, err)
	return packet
}

func newClient(t *testing.T, rules *world.Sandbox) *Receiver {
	w, err := rules.NewLevel(1, 1, 0)
	require.NoError(t, err)
	return NewReceiver(w, rules, nil)
}

func mobjFrame(packetType PacketType, seq uint32, bits uint16, state MobjState) *Frame {
	return &Frame{
		Type:     packetType,
		Sequence: seq,
		Deltas: []Delta{
			{Kind: DeltaMobj, ID: 7, Bits: bits, Mobj: state},
		},
	}
}

func TestStaleFrames(t *testing.T) {
	rules := world.NewSandbox()
	client := newClient(t, rules)

	var acks []uint32
	client.OnAck = func(seq uint32) {
		acks = append(acks, seq)
	}

	full := mobjFrame(PacketFrame, 5, MDAll, MobjState{
		Type:   3001,
		Pos:    world.Vec3{5, 0, 0},
		Health: 50,
	})
	old := mobjFrame(PacketFrame2, 3, MDOrigin|MDHealth, MobjState{
		Pos:    world.Vec3{3, 0, 0},
		Health: 30,
	})
	next := mobjFrame(PacketFrame2, 7, MDOrigin, MobjState{
		Pos: world.Vec3{7, 0, 0},
	})

	require.NoError(t, client.HandlePacket(seal(t, rules, full, false)))
	assert.Equal(t, Synced, client.State())

	err := client.HandlePacket(seal(t, rules, old, false))
	assert.ErrorIs(t, err, ErrStale)

	mo := client.Shadow(7)
	require.NotNil(t, mo)
	assert.Equal(t, world.Vec3{5, 0, 0}, mo.Pos)

	require.NoError(t, client.HandlePacket(seal(t, rules, next, false)))
	assert.Equal(t, world.Vec3{7, 0, 0}, mo.Pos)
	assert.Equal(t, int32(50), mo.Health)
	assert.Equal(t, int32(3001), mo.Type)

	stats := client.Stats()
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, []uint32{5, 7}, acks)

	seq, ok := client.Ack()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), seq)

	// a replayed frame is a duplicate
	assert.ErrorIs(t, client.HandlePacket(seal(t, rules, next, false)), ErrStale)
}

func TestMissedBaseline(t *testing.T) {
	rules := world.NewSandbox()
	client := newClient(t, rules)
	assert.Equal(t, Idle, client.State())

	early := mobjFrame(PacketFrame2, 1, MDOrigin, MobjState{Pos: world.Vec3{1, 1, 1}})
	err := client.HandlePacket(seal(t, rules, early, false))
	assert.ErrorIs(t, err, ErrMissedBaseline)
	assert.True(t, client.MissedBaseline())
	assert.Equal(t, AwaitingFullFrame, client.State())
	assert.Nil(t, client.Shadow(7))
	assert.Equal(t, 1, client.Stats().Dropped)

	full := mobjFrame(PacketFrame, 2, MDAll, MobjState{Type: 1})
	require.NoError(t, client.HandlePacket(seal(t, rules, full, false)))
	assert.Equal(t, Synced, client.State())
	assert.NotNil(t, client.Shadow(7))

	client.Reset()
	assert.Equal(t, Idle, client.State())
	assert.Nil(t, client.Shadow(7))
	assert.Empty(t, client.World.Mobjs())
}

func TestBadPacket(t *testing.T) {
	rules := world.NewSandbox()
	client := newClient(t, rules)

	assert.Error(t, client.HandlePacket([]byte{0, 9, 1, 0, 0, 0}))
	assert.Error(t, client.HandlePacket([]byte{7, 1}))
	assert.Error(t, client.HandlePacket(nil))
	assert.Equal(t, 3, client.Stats().Dropped)

	// still usable
	full := mobjFrame(PacketFrame, 1, MDAll, MobjState{})
	require.NoError(t, client.HandlePacket(seal(t, rules, full, false)))
	assert.Equal(t, Synced, client.State())
}

func TestCapacityAbort(t *testing.T) {
	rules := world.NewSandbox()
	client := newClient(t, rules)
	client.Capacity = 2

	frame := &Frame{Type: PacketFrame, Sequence: 1}
	for id := uint16(1); id <= 3; id++ {
		frame.Deltas = append(frame.Deltas, Delta{
			Kind: DeltaMobj,
			ID:   id,
			Bits: MDAll,
			Mobj: MobjState{Health: int32(id)},
		})
	}

	err := client.HandlePacket(seal(t, rules, frame, false))
	require.Error(t, err)
	assert.True(t, archive.IsCapacity(err))
	assert.Equal(t, 1, client.Stats().Aborted)
	assert.Equal(t, AwaitingFullFrame, client.State())
	assert.Nil(t, client.Shadow(3))

	_, ok := client.Ack()
	assert.False(t, ok)

	frame.Sequence = 2
	frame.Deltas = frame.Deltas[:2]
	require.NoError(t, client.HandlePacket(seal(t, rules, frame, false)))
	assert.Equal(t, Synced, client.State())
}

type sound struct {
	id     int32
	origin *world.Mobj
	sector *world.Sector
	volume float32
}

type recorder struct {
	sounds []sound
}

func (r *recorder) StartSound(id int32, origin *world.Mobj, sector *world.Sector, volume float32) {
	r.sounds = append(r.sounds, sound{id, origin, sector, volume})
}

type session struct {
	rules   *world.Sandbox
	server  *world.World
	builder *Builder
	client  *Receiver
	sounds  *recorder
	player  *world.Mobj
	imp     *world.Mobj
}

func newSession(t *testing.T) *session {
	require.NoError(t, huffman.Init())
	t.Cleanup(huffman.Shutdown)

	rules := world.NewSandbox()
	server, err := rules.NewLevel(1, 1, 0)
	require.NoError(t, err)

	player := rules.SpawnMobj(1)
	player.Player = 0
	server.AddMobj(player)
	server.Players[0].InGame = true
	server.Players[0].Mo = player
	server.Players[0].Health = 100

	imp := rules.SpawnMobj(3001)
	imp.Pos = world.Vec3{128, 64, 0}
	server.AddMobj(imp)

	s := &session{
		rules:   rules,
		server:  server,
		builder: NewBuilder(rules.Textures()),
		client:  newClient(t, rules),
		sounds:  &recorder{},
		player:  player,
		imp:     imp,
	}
	s.builder.Compress = true
	s.client.Sounds = s.sounds
	s.client.OnAck = func(seq uint32) {
		s.builder.Acknowledge(seq)
	}
	return s
}

func (s *session) send(t *testing.T) *Frame {
	frame := s.builder.Build(s.server)
	body, err := frame.Marshal(s.rules.Textures())
	require.NoError(t, err)
	packet, err := Seal(body, s.builder.Compress)
	require.NoError(t, err)
	require.NoError(t, s.client.HandlePacket(packet))
	return frame
}

func TestSync(t *testing.T) {
	s := newSession(t)

	frame := s.send(t)
	assert.Equal(t, PacketFrame, frame.Type)

	client := s.client.World
	imp := s.client.Shadow(s.imp.ID)
	require.NotNil(t, imp)
	assert.Equal(t, world.Vec3{128, 64, 0}, imp.Pos)
	assert.Equal(t, int32(3001), imp.Type)
	assert.Same(t, s.client.Shadow(s.player.ID), client.Players[0].Mo)
	assert.Equal(t, int32(100), client.Players[0].Health)

	s.imp.Pos = world.Vec3{136, 64, 0}
	s.server.Sectors[1].LightLevel = 200
	nukage, _ := s.rules.Textures().FlatNum("NUKAGE1")
	s.server.Sectors[2].FloorPic = nukage

	frame = s.send(t)
	assert.Equal(t, PacketFrame2, frame.Type)
	require.Len(t, frame.Deltas, 3)
	assert.Equal(t, MDOrigin, frame.Deltas[0].Bits)
	assert.Equal(t, SDLight, frame.Deltas[1].Bits)
	assert.Equal(t, SDFloorPic, frame.Deltas[2].Bits)

	assert.Equal(t, world.Vec3{136, 64, 0}, imp.Pos)
	assert.Equal(t, int32(200), client.Sectors[1].LightLevel)
	assert.Equal(t, nukage, client.Sectors[2].FloorPic)

	s.imp.Remove()
	s.server.Thinkers.Compact()
	frame = s.send(t)
	require.Len(t, frame.Deltas, 1)
	assert.Equal(t, MDRemoved, frame.Deltas[0].Bits)
	assert.Nil(t, s.client.Shadow(s.imp.ID))
	assert.True(t, imp.Removed())
	assert.Len(t, client.Mobjs(), 1)

	frame = s.send(t)
	assert.Empty(t, frame.Deltas)

	baseline, ok := s.builder.Baseline()
	assert.True(t, ok)
	assert.Equal(t, frame.Sequence, baseline)
}

func TestLostFrames(t *testing.T) {
	s := newSession(t)
	s.send(t)

	// built but never delivered
	s.imp.Pos = world.Vec3{0, 0, 0}
	s.builder.Build(s.server)
	s.imp.Pos = world.Vec3{1, 0, 0}
	s.builder.Build(s.server)

	s.send(t)
	assert.Equal(t, world.Vec3{1, 0, 0}, s.client.Shadow(s.imp.ID).Pos)
}

func TestLostFrameAfterUnackedFrame(t *testing.T) {
	s := newSession(t)
	s.send(t)

	// the client applies frames but its acks are held back
	var held []uint32
	s.client.OnAck = func(seq uint32) {
		held = append(held, seq)
	}

	s.imp.Pos = world.Vec3{999, 0, 0}
	extra := s.rules.SpawnMobj(3004)
	s.server.AddMobj(extra)
	s.send(t)
	require.NotNil(t, s.client.Shadow(extra.ID))
	assert.Equal(t, world.Vec3{999, 0, 0}, s.client.Shadow(s.imp.ID).Pos)

	// built but never delivered: the imp goes back and the extra goes away
	s.imp.Pos = world.Vec3{128, 64, 0}
	extra.Remove()
	s.server.Thinkers.Compact()
	s.builder.Build(s.server)

	frame := s.send(t)
	assert.Equal(t, PacketFrame2, frame.Type)
	assert.Equal(t, world.Vec3{128, 64, 0}, s.client.Shadow(s.imp.ID).Pos)
	assert.Nil(t, s.client.Shadow(extra.ID))

	for _, seq := range held {
		s.builder.Acknowledge(seq)
	}
	s.client.OnAck = func(seq uint32) {
		s.builder.Acknowledge(seq)
	}

	for i := 0; i < 3; i++ {
		s.send(t)
	}
	assert.Equal(t, s.imp.Pos, s.client.Shadow(s.imp.ID).Pos)
	assert.Nil(t, s.client.Shadow(extra.ID))
	assert.Len(t, s.client.World.Mobjs(), 2)

	frame = s.send(t)
	assert.Empty(t, frame.Deltas)
}

func TestNullObjectDelta(t *testing.T) {
	rules := world.NewSandbox()
	client := newClient(t, rules)

	bad := mobjFrame(PacketFrame, 1, MDAll, MobjState{Pos: world.Vec3{1, 2, 3}})
	bad.Deltas[0].ID = 0
	err := client.HandlePacket(seal(t, rules, bad, false))
	assert.ErrorIs(t, err, ErrNullObject)
	assert.Equal(t, 1, client.Stats().Aborted)

	_, acked := client.Ack()
	assert.False(t, acked)

	// a predictor with nothing attached does not make id 0 acceptable
	client.Predictor = NewPredictor(rules)
	client.ConsolePlayer = 0
	err = client.HandlePacket(seal(t, rules, bad, false))
	assert.ErrorIs(t, err, ErrNullObject)

	good := mobjFrame(PacketFrame, 2, MDAll, MobjState{})
	require.NoError(t, client.HandlePacket(seal(t, rules, good, false)))
	assert.Equal(t, Synced, client.State())
}

func TestFullFrameReplacesState(t *testing.T) {
	s := newSession(t)
	s.send(t)
	require.NotNil(t, s.client.Shadow(s.imp.ID))

	// the server lost track of the client and starts over
	s.imp.Remove()
	s.server.Thinkers.Compact()
	s.builder.Reset()

	frame := s.send(t)
	assert.Equal(t, PacketFrame, frame.Type)
	assert.Nil(t, s.client.Shadow(s.imp.ID))
	assert.Len(t, s.client.World.Mobjs(), 1)
}

func TestSounds(t *testing.T) {
	s := newSession(t)

	s.builder.StartSound(5, s.imp, nil, 0.5)
	s.builder.QueueSound(SoundDelta{Origin: 999, Sector: -1, ID: 6})
	s.builder.StartSound(7, nil, s.server.Sectors[2], 1)
	s.send(t)

	require.Len(t, s.sounds.sounds, 2)

	first := s.sounds.sounds[0]
	assert.Equal(t, int32(5), first.id)
	assert.Same(t, s.client.Shadow(s.imp.ID), first.origin)
	assert.Nil(t, first.sector)
	assert.InDelta(t, 0.5, first.volume, 0.01)

	second := s.sounds.sounds[1]
	assert.Equal(t, int32(7), second.id)
	assert.Nil(t, second.origin)
	assert.Same(t, s.client.World.Sectors[2], second.sector)

	assert.Equal(t, 2, s.client.Stats().Sounds)

	// sent exactly once
	s.send(t)
	assert.Len(t, s.sounds.sounds, 2)
}

func TestPredictor(t *testing.T) {
	rules := world.NewSandbox()
	mo := rules.SpawnMobj(1)

	predictor := NewPredictor(rules)
	predictor.Attach(mo)

	for i := 0; i < 3; i++ {
		cmd := predictor.Predict(world.Ticcmd{Forward: 10})
		assert.Equal(t, uint32(i+1), cmd.Seq)
	}
	assert.Equal(t, float32(30), mo.Pos[0])
	assert.Equal(t, 3, predictor.Pending())

	// the server only got as far as the first command, and a wall
	predictor.Correct(1, world.Vec3{8, 0, 0}, 0)
	assert.Equal(t, float32(28), mo.Pos[0])
	assert.Equal(t, 2, predictor.Pending())

	predictor.Correct(3, world.Vec3{28, 0, 0}, 0)
	assert.Equal(t, float32(28), mo.Pos[0])
	assert.Equal(t, 0, predictor.Pending())
}

func TestPredictedPlayer(t *testing.T) {
	s := newSession(t)
	predictor := NewPredictor(s.rules)
	s.client.Predictor = predictor
	s.client.ConsolePlayer = 0

	s.send(t)
	local := s.client.World.Players[0].Mo
	require.NotNil(t, local)
	assert.Same(t, local, predictor.Mobj())

	for i := 0; i < 2; i++ {
		cmd := predictor.Predict(world.Ticcmd{Forward: 4})
		// the server runs only the first before the next frame
		if i == 0 {
			require.True(t, s.server.RunCommand(s.rules, 0, cmd))
		}
	}
	assert.Equal(t, float32(8), local.Pos[0])

	s.send(t)
	assert.Equal(t, float32(8), local.Pos[0])
	assert.Equal(t, 1, predictor.Pending())
	assert.Equal(t, uint32(1), s.client.World.Players[0].CmdSeq)
}

func TestInbox(t *testing.T) {
	s := newSession(t)
	inbox := NewInbox(4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			s.imp.Pos[0] = float32(i)
			packet, err := s.builder.Packet(s.server)
			if err == nil {
				inbox.Push(packet)
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 3, inbox.Len())
	assert.Equal(t, 3, Update(inbox, s.client))
	assert.Equal(t, 0, inbox.Len())
	assert.Equal(t, float32(2), s.client.Shadow(s.imp.ID).Pos[0])

	for i := 0; i < 5; i++ {
		inbox.Push([]byte{0})
	}
	assert.Equal(t, 1, inbox.Dropped())
}

func TestNewer(t *testing.T) {
	assert.True(t, Newer(7, 5))
	assert.False(t, Newer(3, 5))
	assert.False(t, Newer(5, 5))
	assert.True(t, Newer(2, 0xFFFFFFF0))
}

func TestLightRange(t *testing.T) {
	rules := world.NewSandbox()
	frame := &Frame{
		Type:     PacketFrame,
		Sequence: 1,
		Deltas: []Delta{
			{Kind: DeltaSector, ID: 0, Bits: SDLight, Sector: SectorState{Light: 40000}},
		},
	}

	_, err := frame.Marshal(rules.Textures())
	assert.ErrorIs(t, err, ErrOutOfRange)

	frame.Deltas[0].Sector.Light = -32768
	body, err := frame.Marshal(rules.Textures())
	require.NoError(t, err)
	decoded, err := Unmarshal(body, rules.Textures())
	require.NoError(t, err)
	assert.Equal(t, int32(-32768), decoded.Deltas[0].Sector.Light)
}

func TestUnmarshal(t *testing.T) {
	rules := world.NewSandbox()
	frame := &Frame{
		Type:     PacketFrame2,
		Sequence: 42,
		Deltas: []Delta{
			{
				Kind: DeltaPlayer,
				ID:   3,
				Bits: PDHealth | PDCorrection,
				Player: PlayerState{
					Health: 75,
					Acked:  9,
					Origin: world.Vec3{1, 2, 3},
					Angle:  0x80000000,
				},
			},
			{
				Kind:   DeltaSector,
				ID:     1,
				Bits:   SDCeilingPic | SDCeilingHeight,
				Sector: SectorState{CeilingHeight: 72, CeilingPic: 2},
			},
		},
	}

	body, err := frame.Marshal(rules.Textures())
	require.NoError(t, err)

	decoded, err := Unmarshal(body, rules.Textures())
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

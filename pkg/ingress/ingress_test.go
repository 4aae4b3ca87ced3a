package ingress

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cfoust/framesync/pkg/frame"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Server, *world.World, string) {
	rules := world.NewSandbox()
	server := NewServer(rules)

	w, err := rules.NewLevel(1, 1, 0)
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return server, w, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestMessage(t *testing.T) {
	data, err := encode(Message{
		Op:      CommandOp,
		Command: world.Ticcmd{Seq: 7, Forward: -3, Turn: 512},
	})
	require.NoError(t, err)

	message, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, CommandOp, message.Op)
	assert.Equal(t, uint32(7), message.Command.Seq)
	assert.Equal(t, int8(-3), message.Command.Forward)
	assert.Nil(t, message.Data)
}

func TestFrames(t *testing.T) {
	server, w, url := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := server.Events.Subscribe()
	defer events.Done()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 0, conn.Slot())

	require.Eventually(t, func() bool { return server.NumClients() == 1 }, time.Second, time.Millisecond)
	client := server.snapshot()[0]

	server.Receive(w)
	require.True(t, w.Players[0].InGame)
	require.NotNil(t, w.Players[0].Mo)
	event := <-events.Recv()
	assert.Equal(t, EventJoin, event.Kind)

	server.Broadcast(w)
	require.Eventually(t, func() bool { return conn.Inbox.Len() == 1 }, time.Second, time.Millisecond)

	rules := world.NewSandbox()
	local, err := rules.NewLevel(1, 1, 0)
	require.NoError(t, err)

	receiver := frame.NewReceiver(local, rules, nil)
	receiver.OnAck = conn.Ack
	assert.Equal(t, 1, frame.Update(conn.Inbox, receiver))
	assert.Equal(t, frame.Synced, receiver.State())
	require.True(t, local.Players[0].InGame)
	require.NotNil(t, local.Players[0].Mo)

	// The ack moves the server's baseline
	require.Eventually(t, func() bool {
		server.Receive(w)
		_, ok := client.builder.Baseline()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.True(t, conn.Command(world.Ticcmd{Seq: 1, Forward: 10}))
	require.Eventually(t, func() bool {
		server.Receive(w)
		return w.Players[0].CmdSeq == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float32(10), w.Players[0].Mo.Pos[0])

	server.Broadcast(w)
	require.Eventually(t, func() bool { return conn.Inbox.Len() == 1 }, time.Second, time.Millisecond)
	frame.Update(conn.Inbox, receiver)
	assert.Equal(t, float32(10), local.Players[0].Mo.Pos[0])
	assert.Equal(t, uint32(1), local.Players[0].CmdSeq)
}

func TestLeave(t *testing.T) {
	server, w, url := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server.NumClients() == 1 }, time.Second, time.Millisecond)
	server.Receive(w)
	require.Len(t, w.Mobjs(), 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return server.NumClients() == 0 }, time.Second, time.Millisecond)

	server.Receive(w)
	assert.False(t, w.Players[0].InGame)
	assert.Len(t, w.Mobjs(), 0)

	// The slot is free again
	conn, err = Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 0, conn.Slot())
}

func TestServerFull(t *testing.T) {
	server, _, url := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < world.MaxPlayers; i++ {
		_, err := server.AddClient("test", nil)
		require.NoError(t, err)
	}

	_, err := Dial(ctx, url, nil)
	assert.Error(t, err)
}

type heard struct {
	ids     []int32
	origins []*world.Mobj
}

func (h *heard) StartSound(id int32, origin *world.Mobj, sector *world.Sector, volume float32) {
	h.ids = append(h.ids, id)
	h.origins = append(h.origins, origin)
}

func TestLevelSounds(t *testing.T) {
	rules := world.NewSandbox()
	server := NewServer(rules)
	rules.Sounds = server

	w, err := rules.NewLevel(1, 1, 0)
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return server.NumClients() == 1 }, time.Second, time.Millisecond)
	server.Receive(w)
	require.NotNil(t, w.Players[0].Mo)

	w.Players[0].Mo.Mom = world.Vec3{0, 2, 0}
	for i := 0; i < 100 && w.Players[0].Mo.Mom != (world.Vec3{}); i++ {
		rules.Tick(w)
	}
	require.Equal(t, world.Vec3{}, w.Players[0].Mo.Mom)

	server.Broadcast(w)
	require.Eventually(t, func() bool { return conn.Inbox.Len() == 1 }, time.Second, time.Millisecond)

	local, err := world.NewSandbox().NewLevel(1, 1, 0)
	require.NoError(t, err)

	sounds := &heard{}
	receiver := frame.NewReceiver(local, world.NewSandbox(), sounds)
	assert.Equal(t, 1, frame.Update(conn.Inbox, receiver))

	require.Equal(t, []int32{world.SoundStop}, sounds.ids)
	assert.Same(t, local.Players[0].Mo, sounds.origins[0])
}

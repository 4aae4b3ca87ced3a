package ingress

import (
	"context"
	"time"

	"github.com/cfoust/framesync/pkg/world"

	"github.com/fxamacker/cbor/v2"
	"nhooyr.io/websocket"
)

type Op int

const (
	// Server to client: the slot this connection plays in.
	WelcomeOp Op = iota + 1
	// Server to client: a sealed frame packet.
	PacketOp
	// Client to server: the last frame applied.
	AckOp
	// Client to server: one tic of input.
	CommandOp
)

// Message is the envelope for everything on the socket. Only the fields the
// op needs are set.
type Message struct {
	Op      Op
	Slot    int          `cbor:",omitempty"`
	Seq     uint32       `cbor:",omitempty"`
	Data    []byte       `cbor:",omitempty"`
	Command world.Ticcmd
}

// Players past this many queued sends are too slow and get dropped.
const CLIENT_MESSAGE_LIMIT int = 16

const WRITE_TIMEOUT = 5 * time.Second

func encode(message Message) ([]byte, error) {
	return cbor.Marshal(message)
}

func decode(data []byte) (Message, error) {
	var message Message
	err := cbor.Unmarshal(data, &message)
	return message, err
}

func WriteTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, msg)
}

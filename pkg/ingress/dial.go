package ingress

import (
	"context"
	"fmt"

	"github.com/cfoust/framesync/pkg/frame"
	"github.com/cfoust/framesync/pkg/utils"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

// Conn is the client end of a server connection. Frame packets land in
// Inbox for the simulation thread to apply.
type Conn struct {
	Inbox *frame.Inbox

	slot    int
	conn    *websocket.Conn
	session utils.Session
	send    chan []byte
	errc    chan error
}

// Dial connects to a server and waits for it to assign a slot.
func Dial(ctx context.Context, url string, inbox *frame.Inbox) (*Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	typ, data, err := c.Read(ctx)
	if err != nil {
		c.Close(websocket.StatusInternalError, "")
		return nil, err
	}

	welcome, err := decode(data)
	if err != nil || typ != websocket.MessageBinary || welcome.Op != WelcomeOp {
		c.Close(websocket.StatusProtocolError, "expected welcome")
		return nil, fmt.Errorf("server did not send a welcome")
	}

	if inbox == nil {
		inbox = frame.NewInbox(0)
	}

	conn := &Conn{
		Inbox:   inbox,
		slot:    welcome.Slot,
		conn:    c,
		session: utils.NewSession(context.Background()),
		send:    make(chan []byte, CLIENT_MESSAGE_LIMIT),
		errc:    make(chan error, 1),
	}

	go conn.read()
	go conn.write()

	log.Info().Str("url", url).Int("slot", conn.slot).Msg("connected")
	return conn, nil
}

func (c *Conn) Slot() int {
	return c.slot
}

func (c *Conn) read() {
	ctx := c.session.Ctx()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		message, err := decode(data)
		if err != nil || message.Op != PacketOp {
			log.Debug().Err(err).Msg("ignoring message from server")
			continue
		}

		if !c.Inbox.Push(message.Data) {
			log.Debug().Msg("inbox full, dropping packet")
		}
	}
}

func (c *Conn) write() {
	ctx := c.session.Ctx()
	for {
		select {
		case msg := <-c.send:
			err := WriteTimeout(ctx, WRITE_TIMEOUT, c.conn, msg)
			if err != nil {
				c.fail(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) fail(err error) {
	select {
	case c.errc <- err:
	default:
	}
	c.session.Cancel()
}

func (c *Conn) queue(message Message) bool {
	msg, err := encode(message)
	if err != nil {
		return false
	}

	select {
	case c.send <- msg:
		return true
	case <-c.session.Done():
		return false
	default:
		log.Debug().Int("op", int(message.Op)).Msg("send queue full")
		return false
	}
}

// Ack tells the server a frame was applied. Suitable for Receiver.OnAck.
func (c *Conn) Ack(seq uint32) {
	c.queue(Message{Op: AckOp, Seq: seq})
}

func (c *Conn) Command(cmd world.Ticcmd) bool {
	return c.queue(Message{Op: CommandOp, Command: cmd})
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.session.Done()
}

// Err returns why the connection ended, if it has.
func (c *Conn) Err() error {
	select {
	case err := <-c.errc:
		c.errc <- err
		return err
	default:
		return nil
	}
}

func (c *Conn) Close() error {
	c.session.Cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

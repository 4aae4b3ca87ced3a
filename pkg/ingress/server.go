package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/cfoust/framesync/pkg/frame"
	"github.com/cfoust/framesync/pkg/utils"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"nhooyr.io/websocket"
)

type EventKind uint8

const (
	EventJoin EventKind = iota
	EventLeave
)

type Event struct {
	Kind EventKind
	Slot int
	Host string
}

// Client is one connected player. Its frame builder is only touched from the
// simulation thread.
type Client struct {
	slot      int
	host      string
	session   utils.Session
	builder   *frame.Builder
	send      chan []byte
	closeSlow func()
	joined    bool

	mutex    deadlock.Mutex
	acks     []uint32
	commands []world.Ticcmd
}

func (c *Client) Slot() int {
	return c.slot
}

func (c *Client) Host() string {
	return c.host
}

func (c *Client) queue(message Message) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch message.Op {
	case AckOp:
		c.acks = append(c.acks, message.Seq)
	case CommandOp:
		c.commands = append(c.commands, message.Command)
	}
}

func (c *Client) drain() ([]uint32, []world.Ticcmd) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	acks, commands := c.acks, c.commands
	c.acks = nil
	c.commands = nil
	return acks, commands
}

// Server accepts websocket players and streams frames to them. The network
// side queues everything it reads; Receive and Broadcast hand it to and from
// the simulation thread.
type Server struct {
	Rules    world.Ruleset
	Compress bool
	Events   *utils.Topic[Event]

	mutex      deadlock.Mutex
	clients    map[*Client]struct{}
	slots      [world.MaxPlayers]bool
	leaving    []*Client
	httpServer *http.Server
}

func NewServer(rules world.Ruleset) *Server {
	return &Server{
		Rules:   rules,
		Events:  utils.NewTopic[Event](),
		clients: make(map[*Client]struct{}),
	}
}

var ErrServerFull = fmt.Errorf("server full")

func (s *Server) AddClient(host string, closeSlow func()) (*Client, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for slot, used := range s.slots {
		if used {
			continue
		}

		s.slots[slot] = true
		client := &Client{
			slot:      slot,
			host:      host,
			builder:   frame.NewBuilder(s.Rules.Textures()),
			send:      make(chan []byte, CLIENT_MESSAGE_LIMIT),
			closeSlow: closeSlow,
		}
		client.builder.Compress = s.Compress
		s.clients[client] = struct{}{}
		return client, nil
	}

	return nil, ErrServerFull
}

// RemoveClient takes the client out of the frame rotation. Its slot is freed
// on the next Receive, once its player is gone from the world.
func (s *Server) RemoveClient(client *Client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	s.leaving = append(s.leaving, client)
}

func (s *Server) NumClients() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.clients)
}

func (s *Server) snapshot() []*Client {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	return clients
}

func (s *Server) takeLeaving() []*Client {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	leaving := s.leaving
	s.leaving = nil
	return leaving
}

func (s *Server) spawn(w *world.World, client *Client) {
	player := &w.Players[client.slot]
	mo := s.Rules.SpawnMobj(0)
	mo.Player = int32(client.slot)
	w.AddMobj(mo)

	player.InGame = true
	player.Mo = mo
	player.CmdSeq = 0
	client.joined = true

	s.Events.Publish(Event{Kind: EventJoin, Slot: client.slot, Host: client.host})
}

func (s *Server) despawn(w *world.World, client *Client) {
	player := &w.Players[client.slot]
	if player.Mo != nil {
		player.Mo.Remove()
	}
	*player = world.Player{}
	w.Thinkers.Compact()

	s.mutex.Lock()
	s.slots[client.slot] = false
	s.mutex.Unlock()

	s.Events.Publish(Event{Kind: EventLeave, Slot: client.slot, Host: client.host})
}

// Receive applies everything the network side queued since the last tick:
// players joining and leaving, acknowledgements and input. Runs on the
// simulation thread before the world ticks.
func (s *Server) Receive(w *world.World) {
	for _, client := range s.takeLeaving() {
		s.despawn(w, client)
	}

	for _, client := range s.snapshot() {
		if !client.joined {
			s.spawn(w, client)
		}

		acks, commands := client.drain()
		for _, seq := range acks {
			client.builder.Acknowledge(seq)
		}
		for _, cmd := range commands {
			w.RunCommand(s.Rules, client.slot, cmd)
		}
	}
}

// Broadcast builds and queues the next frame for every client.
func (s *Server) Broadcast(w *world.World) {
	for _, client := range s.snapshot() {
		if !client.joined {
			continue
		}

		packet, err := client.builder.Packet(w)
		if err != nil {
			log.Error().Err(err).Int("slot", client.slot).Msg("could not build frame")
			continue
		}

		msg, err := encode(Message{Op: PacketOp, Data: packet})
		if err != nil {
			log.Error().Err(err).Msg("could not encode packet")
			continue
		}

		select {
		case client.send <- msg:
		default:
			if client.closeSlow != nil {
				go client.closeSlow()
			}
		}
	}
}

// StartSound queues a sound in every client's next frame.
func (s *Server) StartSound(id int32, origin *world.Mobj, sector *world.Sector, volume float32) {
	for _, client := range s.snapshot() {
		client.builder.StartSound(id, origin, sector, volume)
	}
}

func (s *Server) HandleClient(ctx context.Context, c *websocket.Conn, host string) error {
	client, err := s.AddClient(host, func() {
		c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
	})
	if err != nil {
		c.Close(websocket.StatusTryAgainLater, err.Error())
		return err
	}
	defer s.RemoveClient(client)

	client.session = utils.NewSession(ctx)
	defer client.session.Cancel()
	ctx = client.session.Ctx()

	logger := log.With().Int("slot", client.slot).Str("host", host).Logger()
	logger.Info().Msg("client joined")

	welcome, err := encode(Message{Op: WelcomeOp, Slot: client.slot})
	if err != nil {
		return err
	}
	err = WriteTimeout(ctx, WRITE_TIMEOUT, c, welcome)
	if err != nil {
		return err
	}

	receive := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		for {
			typ, message, err := c.Read(ctx)
			if err != nil {
				errc <- err
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}

			select {
			case receive <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-receive:
			message, err := decode(msg)
			if err != nil {
				logger.Debug().Err(err).Msg("bad message from client")
				continue
			}
			client.queue(message)
		case msg := <-client.send:
			err := WriteTimeout(ctx, WRITE_TIMEOUT, c, msg)
			if err != nil {
				logger.Error().Msg("client missed write timeout; disconnecting")
				return err
			}
		case err := <-errc:
			logger.Info().Msg("client left")
			return err
		case <-ctx.Done():
			logger.Info().Msg("client left")
			return ctx.Err()
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})

	if err != nil {
		log.Error().Err(err).Msg("error accepting client connection")
		return
	}

	defer c.Close(websocket.StatusInternalError, "operational fault during relay")

	hostname := r.RemoteAddr
	original, ok := r.Header["X-Forwarded-For"]
	if ok {
		hostname = original[0]
	}

	err = s.HandleClient(r.Context(), c, hostname)
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrServerFull) {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("client connection failed")
		return
	}
}

func (s *Server) Serve(ctx context.Context, port int) error {
	listen, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		log.Error().Err(err).Msg("failed to bind WebSocket port")
		return err
	}

	log.Info().Msgf("listening on ws://%v", listen.Addr())

	s.mutex.Lock()
	s.httpServer = &http.Server{
		Handler: s,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	httpServer := s.httpServer
	s.mutex.Unlock()

	err = httpServer.Serve(listen)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) {
	s.mutex.Lock()
	httpServer := s.httpServer
	s.mutex.Unlock()

	if httpServer != nil {
		httpServer.Shutdown(ctx)
	}
}

var _ world.SoundPlayer = (*Server)(nil)

package master

import (
	"context"
	"fmt"
	"time"

	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

// Repeated announcements of the same status closer together than this are
// dropped.
const AnnounceInterval = 10 * time.Second

var ErrNotInitialized = fmt.Errorf("master client not initialized")

// Client caches the most recent server listing for a server browser. None of
// it affects the simulation.
type Client struct {
	directory Directory
	host      string
	port      int
	limiter   *rate.Limiter

	mutex     deadlock.Mutex
	servers   []ServerInfo
	pending   bool
	announced bool
	lastOpen  bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient makes a client that announces host:port, the address players
// should connect to.
func NewClient(directory Directory, host string, port int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		directory: directory,
		host:      host,
		port:      port,
		limiter:   rate.NewLimiter(rate.Every(AnnounceInterval), 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Announce pushes our status to the directory. A change of status always
// goes out; repeating the last status returns false without contacting the
// directory when it is too soon after the previous announcement.
func (c *Client) Announce(ctx context.Context, isOpen bool) (bool, error) {
	c.mutex.Lock()
	changed := !c.announced || c.lastOpen != isOpen
	c.mutex.Unlock()

	// Changes also spend a token.
	allowed := c.limiter.Allow()
	if !changed && !allowed {
		log.Debug().Bool("open", isOpen).Msg("announce rate limited")
		return false, nil
	}

	err := c.directory.Register(ctx, ServerInfo{
		Host: c.host,
		Port: c.port,
		Open: isOpen,
	})
	if err != nil {
		return true, fmt.Errorf("failed to announce: %w", err)
	}

	c.mutex.Lock()
	c.announced = true
	c.lastOpen = isOpen
	c.mutex.Unlock()

	log.Info().Str("host", c.host).Int("port", c.port).Bool("open", isOpen).Msg("announced to master")
	return true, nil
}

// RequestList starts fetching the listing in the background. The previous
// listing stays readable until the new one arrives. Returns false if a
// request is already in flight.
func (c *Client) RequestList() bool {
	c.mutex.Lock()
	if c.pending {
		c.mutex.Unlock()
		return false
	}
	c.pending = true
	ctx := c.ctx
	c.mutex.Unlock()

	go func() {
		servers, err := c.directory.List(ctx)

		c.mutex.Lock()
		defer c.mutex.Unlock()
		c.pending = false

		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch server list")
			return
		}

		c.servers = servers
		log.Debug().Int("count", len(servers)).Msg("received server list")
	}()

	return true
}

func (c *Client) Pending() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pending
}

func (c *Client) Count() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.servers)
}

// Get returns the server at index in the last received listing.
func (c *Client) Get(index int) opt.Option[ServerInfo] {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if index < 0 || index >= len(c.servers) {
		return opt.None[ServerInfo]()
	}

	return opt.Some(c.servers[index])
}

// Close cancels any request in flight.
func (c *Client) Close() {
	c.cancel()
}

var (
	globalMutex deadlock.Mutex
	global      *Client
)

// Init sets up the process-wide client. Calling it again replaces the old
// one.
func Init(directory Directory, host string, port int) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if global != nil {
		global.Close()
	}
	global = NewClient(directory, host, port)
}

func Shutdown() {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if global == nil {
		return
	}
	global.Close()
	global = nil
}

func current() *Client {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return global
}

func AnnounceServer(ctx context.Context, isOpen bool) error {
	client := current()
	if client == nil {
		return ErrNotInitialized
	}
	_, err := client.Announce(ctx, isOpen)
	return err
}

func RequestList() error {
	client := current()
	if client == nil {
		return ErrNotInitialized
	}
	client.RequestList()
	return nil
}

func Get(index int) opt.Option[ServerInfo] {
	client := current()
	if client == nil {
		return opt.None[ServerInfo]()
	}
	return client.Get(index)
}

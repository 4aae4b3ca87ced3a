package master

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v9"
)

type ServerInfo struct {
	Host string
	Port int
	Open bool
}

func (s ServerInfo) String() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// A Directory is somewhere game servers register themselves and clients
// find them.
type Directory interface {
	Register(ctx context.Context, info ServerInfo) error
	List(ctx context.Context) ([]ServerInfo, error)
}

const DefaultTimeout = 5 * time.Second

// LineDirectory talks to a master server over its newline-delimited TCP
// protocol.
type LineDirectory struct {
	Address string
	Timeout time.Duration
}

func NewLineDirectory(address string) *LineDirectory {
	return &LineDirectory{
		Address: address,
		Timeout: DefaultTimeout,
	}
}

func (d *LineDirectory) exchange(ctx context.Context, request string, done func(line string) (bool, error)) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	_, err = conn.Write([]byte(request + "\n"))
	if err != nil {
		return fmt.Errorf("error sending %q: %w", request, err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		finished, err := done(strings.TrimSpace(scanner.Text()))
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}

	return scanner.Err()
}

// Register announces the server. The master only learns about open servers,
// so a closed server is not sent at all.
func (d *LineDirectory) Register(ctx context.Context, info ServerInfo) error {
	if !info.Open {
		return nil
	}

	registered := false
	err := d.exchange(ctx, fmt.Sprintf("regserv %d", info.Port), func(line string) (bool, error) {
		if strings.HasPrefix(line, "failreg") {
			return true, fmt.Errorf("master rejected registration: %s", line)
		} else if strings.HasPrefix(line, "succreg") {
			registered = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	if !registered {
		return fmt.Errorf("failed to register")
	}

	return nil
}

func parseServer(line string) (ServerInfo, bool) {
	if !strings.HasPrefix(line, "addserver") {
		return ServerInfo{}, false
	}

	parts := strings.Fields(line)
	if len(parts) < 3 {
		return ServerInfo{}, false
	}

	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return ServerInfo{}, false
	}

	return ServerInfo{
		Host: parts[1],
		Port: port,
		Open: true,
	}, true
}

// List reads addserver lines until the master closes the connection.
func (d *LineDirectory) List(ctx context.Context) ([]ServerInfo, error) {
	var servers []ServerInfo
	err := d.exchange(ctx, "list", func(line string) (bool, error) {
		server, ok := parseServer(line)
		if ok {
			servers = append(servers, server)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return servers, nil
}

const (
	SERVER_KEY    = "servers-%s"
	SERVER_PREFIX = "servers-*"
	SERVER_EXPIRY = time.Duration(5 * time.Minute)
)

// RedisDirectory keeps one expiring entry per server. A server that stops
// announcing drops out once its entry expires.
type RedisDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDirectory(client *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = SERVER_EXPIRY
	}
	return &RedisDirectory{
		client: client,
		ttl:    ttl,
	}
}

var ErrNoHost = fmt.Errorf("server has no advertised host")

func serverKey(info ServerInfo) string {
	return fmt.Sprintf(SERVER_KEY, info.String())
}

// Register stores the server under its host and port. Unlike the line
// master, redis cannot see where the announcement came from, so the host
// must be set.
func (r *RedisDirectory) Register(ctx context.Context, info ServerInfo) error {
	if info.Host == "" {
		return ErrNoHost
	}
	key := serverKey(info)

	if !info.Open {
		return r.client.Del(ctx, key).Err()
	}

	data, err := cbor.Marshal(info)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, data, r.ttl).Err()
}

func (r *RedisDirectory) List(ctx context.Context) ([]ServerInfo, error) {
	var servers []ServerInfo

	iter := r.client.Scan(ctx, 0, SERVER_PREFIX, 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			// Expired between the scan and the read
			continue
		}
		if err != nil {
			return nil, err
		}

		var info ServerInfo
		err = cbor.Unmarshal(data, &info)
		if err != nil {
			return nil, fmt.Errorf("bad directory entry %s: %w", iter.Val(), err)
		}
		servers = append(servers, info)
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	return servers, nil
}

var _ Directory = (*LineDirectory)(nil)
var _ Directory = (*RedisDirectory)(nil)

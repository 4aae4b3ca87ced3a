package config

import (
	"time"
)

type MasterBackend string

const (
	MasterBackendLine  MasterBackend = "line"
	MasterBackendRedis MasterBackend = "redis"
)

type MasterSettings struct {
	Enabled bool
	Backend MasterBackend
	// Address players should connect to. The line master works it out from
	// the connection; the redis directory needs it.
	Host string
	// host:port of a line protocol master.
	Address string
	// host:port of the redis server holding the directory.
	Redis string
	TTL   int
}

func (m MasterSettings) Expiry() time.Duration {
	return time.Duration(m.TTL) * time.Second
}

type ServerSettings struct {
	Port          int
	TickRate      int
	Description   string
	SaveDirectory string
	Compress      bool
	Master        MasterSettings
}

// TickInterval is the time between simulation tics.
func (s ServerSettings) TickInterval() time.Duration {
	if s.TickRate <= 0 {
		return time.Second / 35
	}
	return time.Second / time.Duration(s.TickRate)
}

type ClientSettings struct {
	InboxSize int      `json:"inboxSize"`
	Predict   bool     `json:"predict"`
	Servers   []string `json:"servers"`
}

type Config struct {
	Server ServerSettings
	Client ClientSettings
}

// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
)

// Default peer endpoints.
const (
	DefaultPushAddr = "tcp://*:9999"
	DefaultSubAddr  = "tcp://*:9998"
)

// Config holds peer parameters.
type Config struct {
	// Sender is the id replies are addressed to. Default: random UUID.
	Sender string
	// PushAddr and SubAddr are bound locally.
	PushAddr string
	SubAddr  string
	// AdvertisePush and AdvertiseSub are what relays are told to connect
	// to. They default to the bind addresses.
	AdvertisePush string
	AdvertiseSub  string
	// Timeout bounds every control round trip and blocking send.
	Timeout time.Duration
	// PollInterval bounds one blocking receive inside a longer wait.
	PollInterval time.Duration
	// RemoteAddr is reported in the REMOTE_ADDR header of requests.
	RemoteAddr string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Sender:       uuid.NewString(),
		PushAddr:     DefaultPushAddr,
		SubAddr:      DefaultSubAddr,
		Timeout:      time.Second,
		PollInterval: 100 * time.Millisecond,
		RemoteAddr:   "127.0.0.1",
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Sender == "" {
		c.Sender = def.Sender
	}
	if c.PushAddr == "" {
		c.PushAddr = def.PushAddr
	}
	if c.SubAddr == "" {
		c.SubAddr = def.SubAddr
	}
	if c.AdvertisePush == "" {
		c.AdvertisePush = c.PushAddr
	}
	if c.AdvertiseSub == "" {
		c.AdvertiseSub = c.SubAddr
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = def.RemoteAddr
	}
}

// Option customizes a Peer.
type Option func(*Peer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Peer) { p.log = l }
}

// WithSocketFactory replaces the ZeroMQ socket factory.
func WithSocketFactory(f api.SocketFactory) Option {
	return func(p *Peer) { p.factory = f }
}

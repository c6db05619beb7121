// File: server/options.go
// Package server defines functional options for the relay Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/adapters"
	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/reactor"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// WithSocketFactory replaces the ZeroMQ socket factory.
func WithSocketFactory(f api.SocketFactory) ServerOption {
	return func(s *Server) {
		s.factory = f
	}
}

// WithReactor replaces the ZeroMQ poller.
func WithReactor(r reactor.Reactor) ServerOption {
	return func(s *Server) {
		s.reactor = r
	}
}

// WithControl shares a control adapter, e.g. so the caller can serve its
// metrics and trigger reloads.
func WithControl(c *adapters.ControlAdapter) ServerOption {
	return func(s *Server) {
		s.ctrl = c
	}
}

// WithMiddleware attaches handler middleware in FIFO order.
func WithMiddleware(mw ...adapters.Middleware) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

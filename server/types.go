// File: server/types.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"time"

	"github.com/momentics/m2relay/control"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("server already running")

// Config is the relay configuration; see control.Config.
type Config = control.Config

// DefaultConfig returns sensible defaults with a fresh sender id.
func DefaultConfig() Config {
	return control.DefaultConfig()
}

// Stats is a point-in-time view of the loop, safe to take from any
// goroutine.
type Stats struct {
	Iterations  uint64
	Connections int
	Confirmed   int
	Pending     int
	Deadline    time.Time
	Running     bool
}

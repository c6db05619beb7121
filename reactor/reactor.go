// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for message socket multiplexing.

package reactor

import (
	"errors"
	"time"

	"github.com/momentics/m2relay/api"
)

// ErrInterrupted is returned by Poll when a signal cut the wait short.
// Nothing was dispatched and the caller may poll again.
var ErrInterrupted = errors.New("reactor: poll interrupted")

// Callback is invoked once per poll for each registered socket that has a
// message ready to read.
type Callback func(s api.Socket)

// Reactor multiplexes read readiness across many sockets. It is owned by a
// single goroutine; no method is safe for concurrent use.
type Reactor interface {
	// Register adds s for read readiness; cb runs from Poll.
	Register(s api.Socket, cb Callback) error

	// Unregister removes s. Ready events already collected for s in the
	// current Poll are skipped.
	Unregister(s api.Socket) error

	// Poll waits up to timeout for readiness and dispatches callbacks in the
	// order the backend reports them. An interrupted wait returns
	// ErrInterrupted.
	Poll(timeout time.Duration) (int, error)

	// Close drops all registrations.
	Close() error
}

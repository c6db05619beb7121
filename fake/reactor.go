// Package fake
// Author: momentics <momentics@gmail.com>
//
// Deterministic reactor.Reactor for single-goroutine tests.

package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/reactor"
)

type fakeReg struct {
	sock *Socket
	cb   reactor.Callback
}

// Reactor is a reactor.Reactor over fake sockets. Poll never sleeps: it
// fires the callback of every registered socket holding a message, once,
// in registration order.
type Reactor struct {
	mu       sync.Mutex
	regs     []fakeReg
	timeouts []time.Duration
	closed   bool

	// PollErr, when set, is returned by the next Poll and then cleared.
	PollErr error
}

var _ reactor.Reactor = (*Reactor)(nil)

// NewReactor returns an empty fake reactor.
func NewReactor() *Reactor {
	return &Reactor{}
}

func (r *Reactor) Register(s api.Socket, cb reactor.Callback) error {
	fs, ok := s.(*Socket)
	if !ok {
		return fmt.Errorf("fake reactor: %T is not a fake socket: %w", s, api.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.regs {
		if reg.sock == fs {
			return fmt.Errorf("fake reactor: socket already registered: %w", api.ErrInvalidArgument)
		}
	}
	r.regs = append(r.regs, fakeReg{sock: fs, cb: cb})
	return nil
}

func (r *Reactor) Unregister(s api.Socket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.sock == s {
			r.regs = append(r.regs[:i:i], r.regs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Interrupt makes the next Poll report a signal interruption.
func (r *Reactor) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PollErr = fmt.Errorf("%w: interrupted system call", reactor.ErrInterrupted)
}

func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	r.mu.Lock()
	r.timeouts = append(r.timeouts, timeout)
	if err := r.PollErr; err != nil {
		r.PollErr = nil
		r.mu.Unlock()
		return 0, err
	}
	var ready []fakeReg
	for _, reg := range r.regs {
		if reg.sock.Readable() {
			ready = append(ready, reg)
		}
	}
	r.mu.Unlock()

	fired := 0
	for _, reg := range ready {
		if !r.registered(reg.sock) {
			continue
		}
		reg.cb(reg.sock)
		fired++
	}
	return fired, nil
}

func (r *Reactor) registered(s *Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.regs {
		if reg.sock == s {
			return true
		}
	}
	return false
}

func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = nil
	r.closed = true
	return nil
}

// Registered returns the number of registered sockets.
func (r *Reactor) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// Timeouts returns every timeout Poll was called with.
func (r *Reactor) Timeouts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timeouts...)
}

// Closed reports whether Close was called.
func (r *Reactor) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

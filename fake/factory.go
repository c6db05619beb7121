// Package fake
// Author: momentics <momentics@gmail.com>
//
// Recording api.SocketFactory.

package fake

import (
	"sync"

	"github.com/momentics/m2relay/api"
)

// Factory hands out fake sockets and remembers them in creation order.
type Factory struct {
	mu      sync.Mutex
	sockets []*Socket
	closed  bool

	// ConnectErrs makes Connect/Bind to the given endpoint fail.
	ConnectErrs map[string]error
	// Prepare, when set, runs on every socket before it is returned.
	Prepare func(s *Socket)
}

var _ api.SocketFactory = (*Factory)(nil)

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{ConnectErrs: make(map[string]error)}
}

func (f *Factory) NewSocket(t api.SocketType) (api.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, api.ErrSocketClosed
	}
	s := NewSocket(t)
	s.connectErrs = f.ConnectErrs
	if f.Prepare != nil {
		f.Prepare(s)
	}
	f.sockets = append(f.sockets, s)
	return s, nil
}

func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Factory) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sockets returns every socket created so far.
func (f *Factory) Sockets() []*Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Socket(nil), f.sockets...)
}

// ByEndpoint returns the most recent socket of type t bound or connected to
// endpoint.
func (f *Factory) ByEndpoint(t api.SocketType, endpoint string) *Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sockets) - 1; i >= 0; i-- {
		s := f.sockets[i]
		if s.typ != t {
			continue
		}
		for _, e := range append(s.Bound(), s.Connected()...) {
			if e == endpoint {
				return s
			}
		}
	}
	return nil
}

// File: reactor/zmq_reactor.go
// Author: momentics <momentics@gmail.com>
//
// ZeroMQ zmq_poll(3)-based reactor implementation.

package reactor

import (
	"errors"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
	"golang.org/x/sys/unix"

	"github.com/momentics/m2relay/api"
)

// ZMQSocket is implemented by sockets backed by a libzmq handle.
type ZMQSocket interface {
	api.Socket
	Raw() *zmq.Socket
}

type registration struct {
	sock api.Socket
	cb   Callback
}

// zmqReactor implements Reactor on top of zmq.Poller.
type zmqReactor struct {
	poller *zmq.Poller
	regs   map[*zmq.Socket]registration
}

// NewZMQReactor constructs an empty ZeroMQ reactor.
func NewZMQReactor() Reactor {
	return &zmqReactor{
		poller: zmq.NewPoller(),
		regs:   make(map[*zmq.Socket]registration),
	}
}

// Register adds a socket to the poll set.
func (r *zmqReactor) Register(s api.Socket, cb Callback) error {
	zs, ok := s.(ZMQSocket)
	if !ok {
		return fmt.Errorf("reactor: %T is not a zmq socket: %w", s, api.ErrInvalidArgument)
	}
	raw := zs.Raw()
	if _, dup := r.regs[raw]; dup {
		return fmt.Errorf("reactor: socket already registered: %w", api.ErrInvalidArgument)
	}
	r.poller.Add(raw, zmq.POLLIN)
	r.regs[raw] = registration{sock: s, cb: cb}
	return nil
}

// Unregister removes a socket from the poll set.
func (r *zmqReactor) Unregister(s api.Socket) error {
	zs, ok := s.(ZMQSocket)
	if !ok {
		return fmt.Errorf("reactor: %T is not a zmq socket: %w", s, api.ErrInvalidArgument)
	}
	raw := zs.Raw()
	if _, ok := r.regs[raw]; !ok {
		return nil
	}
	delete(r.regs, raw)
	return r.poller.RemoveBySocket(raw)
}

// Poll blocks up to timeout and runs callbacks of ready sockets.
func (r *zmqReactor) Poll(timeout time.Duration) (int, error) {
	if timeout < 0 {
		timeout = 0
	}
	polled, err := r.poller.Poll(timeout)
	if err != nil {
		if isInterrupted(err) {
			return 0, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return 0, fmt.Errorf("zmq poll: %w", err)
	}

	fired := 0
	for _, p := range polled {
		if p.Events&zmq.POLLIN == 0 {
			continue
		}
		// An earlier callback may have unregistered this socket.
		reg, ok := r.regs[p.Socket]
		if !ok {
			continue
		}
		reg.cb(reg.sock)
		fired++
	}
	return fired, nil
}

// Close drops every registration. Sockets stay open; their owners close them.
func (r *zmqReactor) Close() error {
	for raw := range r.regs {
		_ = r.poller.RemoveBySocket(raw)
	}
	r.regs = make(map[*zmq.Socket]registration)
	return nil
}

func isInterrupted(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(unix.EINTR) || errors.Is(err, unix.EINTR)
}

// File: internal/transport/zmq.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// api.Socket and api.SocketFactory backed by libzmq.

package transport

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
	"golang.org/x/sys/unix"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/reactor"
)

var zmqTypes = map[api.SocketType]zmq.Type{
	api.SocketPull: zmq.PULL,
	api.SocketPush: zmq.PUSH,
	api.SocketPub:  zmq.PUB,
	api.SocketSub:  zmq.SUB,
	api.SocketReq:  zmq.REQ,
	api.SocketRep:  zmq.REP,
}

// ZMQFactory creates sockets in one zmq context.
type ZMQFactory struct {
	ctx *zmq.Context
}

var _ api.SocketFactory = (*ZMQFactory)(nil)

// NewZMQFactory allocates a fresh zmq context.
func NewZMQFactory() (*ZMQFactory, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq context: %w", err)
	}
	return &ZMQFactory{ctx: ctx}, nil
}

// NewSocket creates a socket of type t.
func (f *ZMQFactory) NewSocket(t api.SocketType) (api.Socket, error) {
	zt, ok := zmqTypes[t]
	if !ok {
		return nil, fmt.Errorf("socket type %v: %w", t, api.ErrInvalidArgument)
	}
	s, err := f.ctx.NewSocket(zt)
	if err != nil {
		return nil, fmt.Errorf("zmq %v socket: %w", t, err)
	}
	return &zmqSocket{typ: t, sock: s}, nil
}

// Close terminates the context. Blocks until every socket is closed.
func (f *ZMQFactory) Close() error {
	return f.ctx.Term()
}

type zmqSocket struct {
	typ    api.SocketType
	sock   *zmq.Socket
	closed bool
}

var _ reactor.ZMQSocket = (*zmqSocket)(nil)

func (s *zmqSocket) Type() api.SocketType { return s.typ }
func (s *zmqSocket) Raw() *zmq.Socket     { return s.sock }

func (s *zmqSocket) Bind(endpoint string) error {
	return mapErr(s.sock.Bind(endpoint))
}

func (s *zmqSocket) Connect(endpoint string) error {
	return mapErr(s.sock.Connect(endpoint))
}

func (s *zmqSocket) Subscribe(prefix string) error {
	return mapErr(s.sock.SetSubscribe(prefix))
}

// SetTimeouts maps negative durations to "wait forever".
func (s *zmqSocket) SetTimeouts(recv, send time.Duration) error {
	if recv < 0 {
		recv = -1
	}
	if send < 0 {
		send = -1
	}
	if err := s.sock.SetRcvtimeo(recv); err != nil {
		return mapErr(err)
	}
	return mapErr(s.sock.SetSndtimeo(send))
}

func (s *zmqSocket) Recv() ([]byte, error) {
	if s.closed {
		return nil, api.ErrSocketClosed
	}
	b, err := s.sock.RecvBytes(0)
	return b, mapErr(err)
}

func (s *zmqSocket) Send(data []byte) error {
	if s.closed {
		return api.ErrSocketClosed
	}
	_, err := s.sock.SendBytes(data, 0)
	return mapErr(err)
}

func (s *zmqSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.sock.SetLinger(0)
	return mapErr(s.sock.Close())
}

// mapErr normalizes libzmq errno values onto api sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch zmq.AsErrno(err) {
	case zmq.Errno(unix.EAGAIN):
		return fmt.Errorf("%w: %v", api.ErrWouldBlock, err)
	case zmq.ETERM, zmq.Errno(unix.ENOTSOCK):
		return fmt.Errorf("%w: %v", api.ErrSocketClosed, err)
	}
	return err
}

// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the message socket abstraction shared by the reactor, the
// connection registry and the peer client.

package api

import "time"

// SocketType enumerates the message socket patterns the relay uses.
type SocketType int

const (
	SocketPull SocketType = iota
	SocketPush
	SocketPub
	SocketSub
	SocketReq
	SocketRep
)

func (t SocketType) String() string {
	switch t {
	case SocketPull:
		return "PULL"
	case SocketPush:
		return "PUSH"
	case SocketPub:
		return "PUB"
	case SocketSub:
		return "SUB"
	case SocketReq:
		return "REQ"
	case SocketRep:
		return "REP"
	default:
		return "UNKNOWN"
	}
}

// Socket is one message-oriented endpoint. Each Recv returns exactly one
// message. Send and Recv honour the timeouts set with SetTimeouts; a
// timeout of zero makes them fail fast with ErrWouldBlock.
type Socket interface {
	Type() SocketType
	Bind(endpoint string) error
	Connect(endpoint string) error
	Subscribe(prefix string) error
	SetTimeouts(recv, send time.Duration) error
	Recv() ([]byte, error)
	Send(data []byte) error
	// Close releases the socket without lingering on unsent data.
	Close() error
}

// SocketFactory creates sockets sharing one transport context.
type SocketFactory interface {
	NewSocket(t SocketType) (Socket, error)
	// Close terminates the context; all sockets must be closed first.
	Close() error
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory api.Socket.

package fake

import (
	"sync"
	"time"

	"github.com/momentics/m2relay/api"
)

// Socket is a fake api.Socket. Inbound messages are queued with Push;
// everything passed to Send is recorded.
type Socket struct {
	mu            sync.Mutex
	typ           api.SocketType
	bound         []string
	connected     []string
	subscriptions []string
	inbox         [][]byte
	sent          [][]byte
	closed        bool
	recvTimeout   time.Duration
	sendTimeout   time.Duration
	connectErrs   map[string]error

	// BlockSends makes the next n sends fail with api.ErrWouldBlock.
	BlockSends int
	// SendErr, when set, is returned by every Send.
	SendErr error
	// ConnectErr, when set, is returned by Connect and Bind.
	ConnectErr error
	// OnSend observes every successful send; it may call Push.
	OnSend func(s *Socket, data []byte)
}

var _ api.Socket = (*Socket)(nil)

// NewSocket returns an open fake socket of type t.
func NewSocket(t api.SocketType) *Socket {
	return &Socket{typ: t}
}

func (s *Socket) Type() api.SocketType { return s.typ }

func (s *Socket) Bind(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.endpointErr(endpoint); err != nil {
		return err
	}
	s.bound = append(s.bound, endpoint)
	return nil
}

func (s *Socket) Connect(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.endpointErr(endpoint); err != nil {
		return err
	}
	s.connected = append(s.connected, endpoint)
	return nil
}

func (s *Socket) endpointErr(endpoint string) error {
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	return s.connectErrs[endpoint]
}

func (s *Socket) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, prefix)
	return nil
}

func (s *Socket) SetTimeouts(recv, send time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvTimeout, s.sendTimeout = recv, send
	return nil
}

// Recv pops the oldest pushed message, or fails with api.ErrWouldBlock.
func (s *Socket) Recv() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, api.ErrSocketClosed
	}
	if len(s.inbox) == 0 {
		return nil, api.ErrWouldBlock
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.ErrSocketClosed
	}
	if s.SendErr != nil {
		s.mu.Unlock()
		return s.SendErr
	}
	if s.BlockSends > 0 {
		s.BlockSends--
		s.mu.Unlock()
		return api.ErrWouldBlock
	}
	cp := append([]byte(nil), data...)
	s.sent = append(s.sent, cp)
	hook := s.OnSend
	s.mu.Unlock()
	if hook != nil {
		hook(s, cp)
	}
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Push queues an inbound message.
func (s *Socket) Push(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, append([]byte(nil), msg...))
}

// Readable reports whether a message is waiting.
func (s *Socket) Readable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.inbox) > 0
}

// Sent returns a copy of every message sent so far.
func (s *Socket) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// TakeSent returns and clears the sent messages.
func (s *Socket) TakeSent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bound returns the endpoints passed to Bind.
func (s *Socket) Bound() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bound...)
}

// Connected returns the endpoints passed to Connect.
func (s *Socket) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.connected...)
}

// Subscriptions returns the prefixes passed to Subscribe.
func (s *Socket) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscriptions...)
}

// Timeouts returns the last values passed to SetTimeouts.
func (s *Socket) Timeouts() (recv, send time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvTimeout, s.sendTimeout
}

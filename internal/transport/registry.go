// File: internal/transport/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/reactor"
)

// ReadableFunc is called from the reactor when a Connection's inbound socket
// has a message.
type ReadableFunc func(c *Connection)

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithBacklogLimit bounds the outbound backlog of every new Connection.
func WithBacklogLimit(n int) RegistryOption {
	return func(r *Registry) { r.backlogLimit = n }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// Registry maps sender ids to Connections.
type Registry struct {
	factory      api.SocketFactory
	reactor      reactor.Reactor
	onReadable   ReadableFunc
	conns        map[string]*Connection
	seq          uint64
	backlogLimit int
	log          *zap.Logger
}

// NewRegistry builds an empty registry whose inbound sockets are polled by r.
func NewRegistry(f api.SocketFactory, r reactor.Reactor, onReadable ReadableFunc, opts ...RegistryOption) *Registry {
	reg := &Registry{
		factory:      f,
		reactor:      r,
		onReadable:   onReadable,
		conns:        make(map[string]*Connection),
		backlogLimit: DefaultBacklogLimit,
		log:          zap.NewNop(),
	}
	for _, o := range opts {
		o(reg)
	}
	return reg
}

// Add connects a new inbound/outbound pair for sender and starts polling
// its inbound socket.
func (r *Registry) Add(sender, inboundAddr, outboundAddr string) (*Connection, error) {
	if sender == "" {
		return nil, fmt.Errorf("empty sender id: %w", api.ErrInvalidArgument)
	}
	if existing, ok := r.conns[sender]; ok {
		return nil, api.NewError(api.ErrCodeDuplicateSender, api.ErrDuplicateSender,
			fmt.Sprintf("sender %s already registered", sender)).
			WithContext("sender", sender).
			WithContext("inbound", existing.InboundAddr).
			WithContext("outbound", existing.OutboundAddr)
	}

	in, err := r.openSocket(api.SocketPull, inboundAddr)
	if err != nil {
		return nil, err
	}
	out, err := r.openSocket(api.SocketPub, outboundAddr)
	if err != nil {
		_ = in.Close()
		return nil, err
	}

	r.seq++
	c := newConnection(sender, r.seq, in, out, r.backlogLimit)
	c.InboundAddr = inboundAddr
	c.OutboundAddr = outboundAddr

	if err := r.reactor.Register(in, func(api.Socket) { r.onReadable(c) }); err != nil {
		_ = c.close()
		return nil, fmt.Errorf("register inbound for %s: %w", sender, err)
	}
	r.conns[sender] = c
	r.log.Info("connection added",
		zap.String("sender", sender),
		zap.Uint64("seq", c.Seq),
		zap.String("inbound", inboundAddr),
		zap.String("outbound", outboundAddr))
	return c, nil
}

func (r *Registry) openSocket(t api.SocketType, addr string) (api.Socket, error) {
	s, err := r.factory.NewSocket(t)
	if err != nil {
		return nil, err
	}
	if err := s.SetTimeouts(0, 0); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Connect(addr); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect %v to %s: %w", t, addr, err)
	}
	return s, nil
}

// Remove stops polling sender's Connection and closes both sockets without
// lingering.
func (r *Registry) Remove(sender string) error {
	c, ok := r.conns[sender]
	if !ok {
		return api.NewError(api.ErrCodeUnknownSender, api.ErrUnknownSender,
			fmt.Sprintf("no connection for sender %s", sender)).
			WithContext("sender", sender)
	}
	delete(r.conns, sender)
	err := r.reactor.Unregister(c.in)
	if cerr := c.close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	r.log.Info("connection removed",
		zap.String("sender", sender),
		zap.Int("unsent", c.Pending()))
	return err
}

// Resolve looks up the Connection for sender.
func (r *Registry) Resolve(sender string) (*Connection, bool) {
	c, ok := r.conns[sender]
	return c, ok
}

// Len returns the number of registered Connections.
func (r *Registry) Len() int { return len(r.conns) }

// Senders returns the registered sender ids in sorted order.
func (r *Registry) Senders() []string {
	out := make([]string, 0, len(r.conns))
	for s := range r.conns {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Flush retries the backlog of every Connection.
func (r *Registry) Flush() {
	for _, c := range r.conns {
		if c.Pending() == 0 {
			continue
		}
		if _, err := c.Flush(); err != nil {
			r.log.Warn("backlog flush failed", zap.String("sender", c.Sender), zap.Error(err))
		}
	}
}

// CloseAll removes every Connection.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, s := range r.Senders() {
		errs = append(errs, r.Remove(s))
	}
	return errors.Join(errs...)
}

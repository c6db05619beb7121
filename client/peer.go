// File: client/peer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/wire"
	"github.com/momentics/m2relay/internal/transport"
)

// Peer owns the PUSH/SUB pair relays attach to.
type Peer struct {
	cfg     Config
	factory api.SocketFactory
	push    api.Socket
	sub     api.Socket
	log     *zap.Logger

	relays  map[string]*Connector
	connSeq atomic.Uint64
}

// NewPeer binds the PUSH and SUB sockets and subscribes to cfg.Sender.
func NewPeer(cfg Config, opts ...Option) (*Peer, error) {
	cfg.normalize()
	p := &Peer{
		cfg:    cfg,
		log:    zap.NewNop(),
		relays: make(map[string]*Connector),
	}
	for _, o := range opts {
		o(p)
	}
	if p.factory == nil {
		f, err := transport.NewZMQFactory()
		if err != nil {
			return nil, err
		}
		p.factory = f
	}

	var err error
	if p.push, err = p.bind(api.SocketPush, cfg.PushAddr, cfg.Timeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	if p.sub, err = p.bind(api.SocketSub, cfg.SubAddr, cfg.PollInterval); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.sub.Subscribe(cfg.Sender); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Sender, err)
	}
	p.log.Info("peer bound",
		zap.String("sender", cfg.Sender),
		zap.String("push", cfg.PushAddr),
		zap.String("sub", cfg.SubAddr))
	return p, nil
}

func (p *Peer) bind(t api.SocketType, addr string, recvTimeout time.Duration) (api.Socket, error) {
	s, err := p.factory.NewSocket(t)
	if err != nil {
		return nil, err
	}
	if err := s.SetTimeouts(recvTimeout, p.cfg.Timeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Bind(addr); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("bind %v %s: %w", t, addr, err)
	}
	return s, nil
}

// Sender returns the id replies are addressed to.
func (p *Peer) Sender() string { return p.cfg.Sender }

// NextConnID hands out the next connection id, starting at 1.
func (p *Peer) NextConnID() string {
	return strconv.FormatUint(p.connSeq.Add(1), 10)
}

// Connect attaches the peer to the relay whose control endpoint is
// controlAddr and waits until the relay demonstrably routes to it.
func (p *Peer) Connect(ctx context.Context, controlAddr string) (*Connector, error) {
	if _, dup := p.relays[controlAddr]; dup {
		return nil, fmt.Errorf("already connected to %s: %w", controlAddr, api.ErrDuplicateSender)
	}
	c, err := p.Dial(controlAddr)
	if err != nil {
		return nil, err
	}
	if err := c.Setup(); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.VerifyConnect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	p.relays[controlAddr] = c
	p.log.Info("attached to relay", zap.String("control", controlAddr))
	return c, nil
}

// Disconnect detaches from the relay at controlAddr and confirms the relay
// no longer knows the sender.
func (p *Peer) Disconnect(ctx context.Context, controlAddr string) error {
	c, ok := p.relays[controlAddr]
	if !ok {
		return fmt.Errorf("not connected to %s: %w", controlAddr, api.ErrUnknownSender)
	}
	delete(p.relays, controlAddr)
	err := c.Remove()
	if err == nil {
		err = c.VerifyDisconnect(ctx)
	}
	return errors.Join(err, c.Close())
}

// Relays lists the control endpoints the peer is attached to.
func (p *Peer) Relays() []string {
	out := make([]string, 0, len(p.relays))
	for addr := range p.relays {
		out = append(out, addr)
	}
	return out
}

// NewClient starts a logical connection with a fresh connection id.
func (p *Peer) NewClient() *Client {
	return &Client{peer: p, connID: p.NextConnID()}
}

// Send pushes one request to whichever relay pulls next.
func (p *Peer) Send(req *api.Request) error {
	msg, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := p.push.Send(msg); err != nil {
		if errors.Is(err, api.ErrWouldBlock) {
			return fmt.Errorf("%w: no relay took the request within %v", api.ErrConnectTimeout, p.cfg.Timeout)
		}
		return err
	}
	return nil
}

// recvRaw waits for the next message on the SUB socket until ctx is done.
func (p *Peer) recvRaw(ctx context.Context) ([]byte, error) {
	for {
		msg, err := p.sub.Recv()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrConnectTimeout, ctx.Err())
		}
	}
}

// Recv waits for the next reply addressed to this peer. Messages that are
// not replies, such as broadcast tokens, are skipped.
func (p *Peer) Recv(ctx context.Context) (*wire.Reply, error) {
	for {
		msg, err := p.recvRaw(ctx)
		if err != nil {
			return nil, err
		}
		r, err := wire.DecodeReply(msg)
		if err != nil {
			p.log.Debug("skipping non-reply message", zap.Int("len", len(msg)))
			continue
		}
		return r, nil
	}
}

// Close detaches nothing; it only releases sockets. Call Disconnect first
// to leave relays cleanly.
func (p *Peer) Close() error {
	var errs []error
	for addr, c := range p.relays {
		errs = append(errs, c.Close())
		delete(p.relays, addr)
	}
	for _, s := range []api.Socket{p.push, p.sub} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	if p.factory != nil {
		errs = append(errs, p.factory.Close())
	}
	return errors.Join(errs...)
}

// File: client/connector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control endpoint client. REQ sockets cannot recover from a lost reply, so
// a timed out round trip replaces the socket before the next request.

package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/wire"
)

// Connector talks to one relay's control endpoint.
type Connector struct {
	addr string
	peer *Peer
	req  api.Socket
	log  *zap.Logger
}

// Dial opens a control connection to addr. Nothing is sent yet.
func (p *Peer) Dial(addr string) (*Connector, error) {
	c := &Connector{addr: addr, peer: p, log: p.log.With(zap.String("control", addr))}
	if err := c.reopen(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connector) reopen() error {
	if c.req != nil {
		_ = c.req.Close()
		c.req = nil
	}
	s, err := c.peer.factory.NewSocket(api.SocketReq)
	if err != nil {
		return err
	}
	if err := s.SetTimeouts(c.peer.cfg.Timeout, c.peer.cfg.Timeout); err != nil {
		_ = s.Close()
		return err
	}
	if err := s.Connect(c.addr); err != nil {
		_ = s.Close()
		return fmt.Errorf("connect control %s: %w", c.addr, err)
	}
	c.req = s
	return nil
}

// Addr returns the control endpoint.
func (c *Connector) Addr() string { return c.addr }

// Request sends one control line and waits for its reply.
func (c *Connector) Request(line string) (string, error) {
	if c.req == nil {
		if err := c.reopen(); err != nil {
			return "", err
		}
	}
	if err := c.req.Send([]byte(line)); err != nil {
		return "", c.fail(line, err)
	}
	reply, err := c.req.Recv()
	if err != nil {
		return "", c.fail(line, err)
	}
	c.log.Debug("control round trip", zap.String("request", line), zap.String("reply", string(reply)))
	return string(reply), nil
}

func (c *Connector) fail(line string, err error) error {
	_ = c.req.Close()
	c.req = nil
	if errors.Is(err, api.ErrWouldBlock) {
		return fmt.Errorf("%w: %s did not answer %q within %v",
			api.ErrConnectTimeout, c.addr, line, c.peer.cfg.Timeout)
	}
	return fmt.Errorf("control %s: %w", c.addr, err)
}

// Ping checks the relay is alive.
func (c *Connector) Ping() error {
	return c.expect("ping", "pong")
}

// Setup registers the peer's sockets with the relay.
func (c *Connector) Setup() error {
	cfg := c.peer.cfg
	return c.expect(wire.FormatCommand("setup",
		"sender", cfg.Sender,
		"push", cfg.AdvertisePush,
		"sub", cfg.AdvertiseSub), "connected")
}

// Remove asks the relay to drop the peer's sockets.
func (c *Connector) Remove() error {
	return c.expect(wire.FormatCommand("remove_connection", "sender", c.peer.cfg.Sender), "received")
}

// Broadcast asks the relay to publish "<sender> <token>" on the peer's SUB
// socket. It reports whether the relay knows the sender.
func (c *Connector) Broadcast(token string) (bool, error) {
	reply, err := c.Request(wire.FormatCommand("broadcast", "sender", c.peer.cfg.Sender, "ping", token))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(reply) {
	case "pinged":
		return true, nil
	case "no sender":
		return false, nil
	default:
		return false, replyError("broadcast", reply)
	}
}

// VerifyConnect repeats broadcasts until one arrives on the peer's SUB
// socket or ctx is done.
func (c *Connector) VerifyConnect(ctx context.Context) error {
	token := uuid.NewString()
	want := c.peer.cfg.Sender + " " + token
	for ctx.Err() == nil {
		known, err := c.Broadcast(token)
		if err != nil {
			if errors.Is(err, api.ErrConnectTimeout) {
				continue
			}
			return err
		}
		if !known {
			return fmt.Errorf("relay %s has no connection for %s: %w", c.addr, c.peer.cfg.Sender, api.ErrUnknownSender)
		}
		pollCtx, cancel := context.WithTimeout(ctx, c.peer.cfg.PollInterval)
		msg, err := c.peer.recvRaw(pollCtx)
		cancel()
		if err == nil && string(msg) == want {
			c.log.Info("relay verified")
			return nil
		}
	}
	return fmt.Errorf("%w: verifying %s: %v", api.ErrConnectTimeout, c.addr, ctx.Err())
}

// VerifyDisconnect waits until the relay reports it no longer knows the
// sender.
func (c *Connector) VerifyDisconnect(ctx context.Context) error {
	token := uuid.NewString()
	for ctx.Err() == nil {
		known, err := c.Broadcast(token)
		if err != nil {
			if errors.Is(err, api.ErrConnectTimeout) {
				continue
			}
			return err
		}
		if !known {
			return nil
		}
	}
	return fmt.Errorf("%w: %s still routes to %s: %v", api.ErrConnectTimeout, c.addr, c.peer.cfg.Sender, ctx.Err())
}

// Close releases the control socket.
func (c *Connector) Close() error {
	if c.req == nil {
		return nil
	}
	err := c.req.Close()
	c.req = nil
	return err
}

func (c *Connector) expect(line, want string) error {
	reply, err := c.Request(line)
	if err != nil {
		return err
	}
	if !strings.EqualFold(reply, want) {
		return replyError(line, reply)
	}
	return nil
}

// replyError maps an error reply onto the matching error kind.
func replyError(line, reply string) error {
	switch {
	case strings.HasPrefix(reply, "error: duplicate sender"):
		return fmt.Errorf("%s: %s: %w", line, reply, api.ErrDuplicateSender)
	case strings.HasPrefix(reply, "error: unknown sender"):
		return fmt.Errorf("%s: %s: %w", line, reply, api.ErrUnknownSender)
	case strings.HasPrefix(reply, "error: malformed command"):
		return fmt.Errorf("%s: %s: %w", line, reply, api.ErrMalformedCommand)
	default:
		return fmt.Errorf("%s: unexpected reply %q", line, reply)
	}
}

// File: internal/transport/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"

	"github.com/momentics/m2relay/api"
)

// DefaultBacklogLimit bounds queued outbound messages per Connection.
const DefaultBacklogLimit = 1024

// Connection is the inbound/outbound socket pair registered for one sender.
type Connection struct {
	Sender       string
	Seq          uint64
	InboundAddr  string
	OutboundAddr string

	in  api.Socket
	out api.Socket

	// backlog holds messages the outbound socket refused without blocking,
	// oldest first.
	backlog *queue.Queue
	limit   int
	dropped uint64
}

func newConnection(sender string, seq uint64, in, out api.Socket, limit int) *Connection {
	if limit <= 0 {
		limit = DefaultBacklogLimit
	}
	return &Connection{
		Sender:  sender,
		Seq:     seq,
		in:      in,
		out:     out,
		backlog: queue.New(),
		limit:   limit,
	}
}

// Inbound returns the socket requests arrive on.
func (c *Connection) Inbound() api.Socket { return c.in }

// Outbound returns the socket replies leave on.
func (c *Connection) Outbound() api.Socket { return c.out }

// Deliver sends msg without blocking. A message the socket refuses is queued
// behind any earlier ones so per-connection order is kept.
func (c *Connection) Deliver(msg []byte) error {
	if c.backlog.Length() == 0 {
		err := c.out.Send(msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			return fmt.Errorf("send to %s: %w", c.Sender, err)
		}
	}
	if c.backlog.Length() >= c.limit {
		c.dropped++
		return fmt.Errorf("backlog for %s full (%d queued): %w", c.Sender, c.limit, api.ErrWouldBlock)
	}
	c.backlog.Add(msg)
	return nil
}

// Flush retries queued messages until the socket pushes back again.
// It returns the number of messages sent.
func (c *Connection) Flush() (int, error) {
	sent := 0
	for c.backlog.Length() > 0 {
		msg := c.backlog.Peek().([]byte)
		err := c.out.Send(msg)
		if errors.Is(err, api.ErrWouldBlock) {
			return sent, nil
		}
		c.backlog.Remove()
		if err != nil {
			c.dropped++
			return sent, fmt.Errorf("flush to %s: %w", c.Sender, err)
		}
		sent++
	}
	return sent, nil
}

// Pending reports the number of queued outbound messages.
func (c *Connection) Pending() int { return c.backlog.Length() }

// Dropped reports messages discarded because the backlog was full or a
// retried send failed.
func (c *Connection) Dropped() uint64 { return c.dropped }

func (c *Connection) close() error {
	return errors.Join(c.in.Close(), c.out.Close())
}

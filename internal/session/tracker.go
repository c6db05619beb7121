// File: internal/session/tracker.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Two-generation ping sweep and the WebSocket control opcode state machine.

package session

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/protocol"
)

// DefaultInterval is the sweep interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithCloseAck makes the tracker answer a client CLOSE with a CLOSE.
func WithCloseAck(on bool) Option {
	return func(t *Tracker) { t.closeAck = on }
}

// WithRejectBinary drops BINARY frames instead of forwarding them.
func WithRejectBinary(on bool) Option {
	return func(t *Tracker) { t.rejectBinary = on }
}

// Tracker holds the confirmed and pending generations.
type Tracker struct {
	confirmed map[api.SessionKey]*Session
	pending   map[api.SessionKey]*Session

	interval time.Duration
	deadline time.Time

	closeAck     bool
	rejectBinary bool

	sweeps  uint64
	evicted uint64

	log *zap.Logger
}

// NewTracker returns an empty tracker whose first sweep is due at
// now+interval.
func NewTracker(interval time.Duration, now time.Time, opts ...Option) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Tracker{
		confirmed: make(map[api.SessionKey]*Session),
		pending:   make(map[api.SessionKey]*Session),
		interval:  interval,
		deadline:  now.Add(interval),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Open starts tracking the session that just completed its handshake.
// It enters both generations so it survives the next sweep unconditionally.
func (t *Tracker) Open(req *api.Request, now time.Time) *Session {
	key := req.Key()
	s := &Session{Key: key, Opened: now, Last: req}
	t.confirmed[key] = s
	t.pending[key] = s
	t.log.Debug("session opened",
		zap.String("sender", key.Sender),
		zap.String("conn_id", key.ConnID))
	return s
}

// Deadline returns when the next sweep is due.
func (t *Tracker) Deadline() time.Time { return t.deadline }

// Interval returns the current sweep interval.
func (t *Tracker) Interval() time.Duration { return t.interval }

// SetInterval changes the sweep interval. The pending deadline is pulled in
// when the new interval would make it earlier.
func (t *Tracker) SetInterval(d time.Duration, now time.Time) {
	if d <= 0 || d == t.interval {
		return
	}
	t.interval = d
	if next := now.Add(d); next.Before(t.deadline) {
		t.deadline = next
	}
}

// SetCloseAck toggles CLOSE acknowledgement.
func (t *Tracker) SetCloseAck(on bool) { t.closeAck = on }

// SetRejectBinary toggles dropping of BINARY frames.
func (t *Tracker) SetRejectBinary(on bool) { t.rejectBinary = on }

// Sweep runs a sweep if one is due. Pending becomes confirmed and is
// returned for pinging; sessions only in the old confirmed set are dropped.
// However late now is, at most one sweep runs.
func (t *Tracker) Sweep(now time.Time) ([]*Session, bool) {
	if now.Before(t.deadline) {
		return nil, false
	}
	evicted := 0
	for key := range t.confirmed {
		if _, ok := t.pending[key]; !ok {
			evicted++
		}
	}
	t.confirmed = t.pending
	t.pending = make(map[api.SessionKey]*Session, len(t.confirmed))
	t.deadline = now.Add(t.interval)
	t.sweeps++
	t.evicted += uint64(evicted)

	pings := t.sorted(t.confirmed)
	t.log.Debug("sweep",
		zap.Int("ping", len(pings)),
		zap.Int("evicted", evicted),
		zap.Time("next", t.deadline))
	return pings, true
}

// OnOpcode applies a control-opcode frame to the session it belongs to.
func (t *Tracker) OnOpcode(op protocol.Opcode, req *api.Request) Action {
	key := req.Key()
	switch op {
	case protocol.OpcodePong:
		s, ok := t.confirmed[key]
		if !ok {
			s = &Session{Key: key}
		}
		s.Last = req
		t.pending[key] = s
		return Action{Kind: ActionNone}
	case protocol.OpcodePing:
		return Action{Kind: ActionReply, Opcode: protocol.OpcodePong, Body: req.Body}
	case protocol.OpcodeClose:
		t.Drop(key)
		if t.closeAck {
			return Action{Kind: ActionReply, Opcode: protocol.OpcodeClose, Body: req.Body}
		}
		return Action{Kind: ActionNone}
	case protocol.OpcodeBinary:
		if t.rejectBinary {
			t.log.Debug("binary frame rejected",
				zap.String("sender", key.Sender),
				zap.String("conn_id", key.ConnID))
			return Action{Kind: ActionNone}
		}
		return Action{Kind: ActionForward}
	case protocol.OpcodeText:
		return Action{Kind: ActionForward}
	default:
		return Action{Kind: ActionUnrecognized, Opcode: op}
	}
}

// Tracked reports whether key is in either generation.
func (t *Tracker) Tracked(key api.SessionKey) bool {
	if _, ok := t.confirmed[key]; ok {
		return true
	}
	_, ok := t.pending[key]
	return ok
}

// Drop forgets a session.
func (t *Tracker) Drop(key api.SessionKey) bool {
	_, inC := t.confirmed[key]
	_, inP := t.pending[key]
	delete(t.confirmed, key)
	delete(t.pending, key)
	return inC || inP
}

// DropSender forgets every session that arrived through sender and returns
// how many distinct sessions that was.
func (t *Tracker) DropSender(sender string) int {
	dropped := make(map[api.SessionKey]struct{})
	for _, set := range []map[api.SessionKey]*Session{t.confirmed, t.pending} {
		for key := range set {
			if key.Sender == sender {
				delete(set, key)
				dropped[key] = struct{}{}
			}
		}
	}
	return len(dropped)
}

// CloseAll empties the tracker and returns the confirmed sessions, which
// are owed a CLOSE frame.
func (t *Tracker) CloseAll() []*Session {
	out := t.sorted(t.confirmed)
	t.confirmed = make(map[api.SessionKey]*Session)
	t.pending = make(map[api.SessionKey]*Session)
	return out
}

// Counts returns the sizes of the confirmed and pending generations.
func (t *Tracker) Counts() (confirmed, pending int) {
	return len(t.confirmed), len(t.pending)
}

// Sweeps returns the number of sweeps run and sessions evicted so far.
func (t *Tracker) Sweeps() (sweeps, evicted uint64) {
	return t.sweeps, t.evicted
}

func (t *Tracker) sorted(set map[api.SessionKey]*Session) []*Session {
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Sender != out[j].Key.Sender {
			return out[i].Key.Sender < out[j].Key.Sender
		}
		return out[i].Key.ConnID < out[j].Key.ConnID
	})
	return out
}

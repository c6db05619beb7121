// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"time"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/protocol"
)

// Session is the liveness record of one WebSocket connection.
type Session struct {
	Key    api.SessionKey
	Opened time.Time
	// Last is the most recent frame seen for this session.
	Last *api.Request
}

// ActionKind tells the loop what to do with a control-opcode frame.
type ActionKind int

const (
	// ActionNone means the frame was consumed.
	ActionNone ActionKind = iota
	// ActionReply means Action.Opcode/Body must be sent back to the session.
	ActionReply
	// ActionForward means the frame goes on to the request handler.
	ActionForward
	// ActionUnrecognized means the opcode is not handled; log and drop.
	ActionUnrecognized
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionReply:
		return "reply"
	case ActionForward:
		return "forward"
	case ActionUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Action is the outcome of Tracker.OnOpcode.
type Action struct {
	Kind   ActionKind
	Opcode protocol.Opcode
	Body   []byte
}

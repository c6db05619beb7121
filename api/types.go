// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import (
	"net/url"
	"strings"

	"github.com/momentics/m2relay/core/protocol"
)

// Well-known Mongrel2 header names and METHOD values.
const (
	HeaderMethod     = "METHOD"
	HeaderFlags      = "FLAGS"
	HeaderQuery      = "QUERY"
	HeaderPath       = "PATH"
	HeaderURI        = "URI"
	HeaderRemoteAddr = "REMOTE_ADDR"

	MethodHandshake        = "WEBSOCKET_HANDSHAKE"
	MethodWebSocket        = "WEBSOCKET"
	MethodWebSocketConnect = "WEBSOCKET_CONNECT"
	MethodMongrel2         = "MONGREL2"
	MethodJSON             = "JSON"
)

// SessionKey identifies one logical client link behind a sender.
type SessionKey struct {
	Sender string
	ConnID string
}

func (k SessionKey) String() string {
	return k.Sender + ":" + k.ConnID
}

// Request is one decoded inbound Mongrel2 message.
type Request struct {
	Sender  string
	ConnID  string
	Path    string
	Headers map[string]string
	// Query is the parsed QUERY header; the raw value stays in Headers.
	Query map[string]string
	Body  []byte
}

// Key returns the session key the request belongs to.
func (r *Request) Key() SessionKey {
	return SessionKey{Sender: r.Sender, ConnID: r.ConnID}
}

// Header returns a header value, trying the exact name first and then a
// case-insensitive match.
func (r *Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Method returns the upper-cased METHOD header.
func (r *Request) Method() string {
	return strings.ToUpper(r.Header(HeaderMethod))
}

// IsWebSocket reports whether replies to r travel as WebSocket frames.
func (r *Request) IsWebSocket() bool {
	switch r.Method() {
	case MethodWebSocket, MethodWebSocketConnect:
		return true
	}
	return false
}

// ParseQuery fills Query from the QUERY header. The first value of a
// repeated key wins.
func (r *Request) ParseQuery() error {
	raw := r.Header(HeaderQuery)
	r.Query = make(map[string]string)
	if raw == "" {
		return nil
	}
	vals, err := url.ParseQuery(raw)
	for k, v := range vals {
		if len(v) > 0 {
			r.Query[k] = v[0]
		}
	}
	return err
}

// Reply is content a handler wants delivered back to the request's client.
// Opcode applies to WebSocket replies only; zero means text.
type Reply struct {
	Body   []byte
	Opcode protocol.Opcode
}

// TextReply is a convenience constructor for string replies.
func TextReply(s string) *Reply {
	return &Reply{Body: []byte(s)}
}

// File: server/dispatch.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbound request routing: opcodes, handshakes, admin routes, disconnect
// notices, then the caller's handler. Admin routes include attaching and
// detaching the requesting sender's sockets.

package server

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/protocol"
	"github.com/momentics/m2relay/core/wire"
	"github.com/momentics/m2relay/internal/session"
	"github.com/momentics/m2relay/internal/transport"
)

// Admin path segments answered by the relay itself.
const (
	RoutePing           = "ping"
	RoutePingAlt        = "__ping__"
	RouteDisconnectPing = "__disconnect_ping__"

	RouteAddConnection    = "__add_connection__"
	RouteRemoveConnection = "__remove_connection__"
)

// onRequest reads exactly one message from c's inbound socket.
func (s *Server) onRequest(c *transport.Connection) {
	msg, err := c.Inbound().Recv()
	if err != nil {
		if !errors.Is(err, api.ErrWouldBlock) {
			s.log.Warn("inbound recv failed", zap.String("sender", c.Sender), zap.Error(err))
		}
		return
	}
	s.metrics.Frames.WithLabelValues("request").Inc()

	req, err := wire.DecodeRequest(msg)
	if err != nil {
		s.decodeError(c.Sender, err)
		return
	}
	s.dispatch(req)
}

func (s *Server) decodeError(sender string, err error) {
	s.metrics.DecodeErrors.Inc()
	if s.decodeLog.Allow() {
		s.log.Warn("dropping undecodable frame", zap.String("sender", sender), zap.Error(err))
	}
}

func (s *Server) dispatch(req *api.Request) {
	if flags := req.Header(api.HeaderFlags); flags != "" {
		op, err := protocol.ParseFlags(flags)
		if err != nil {
			s.decodeError(req.Sender, fmt.Errorf("%w: %v", api.ErrDecode, err))
			return
		}
		if op != protocol.OpcodeText {
			if !s.onOpcode(op, req) {
				return
			}
			s.handle(req)
			return
		}
	}

	if req.Method() == api.MethodHandshake {
		if !s.handshake(req) {
			return
		}
	}

	switch path.Base(req.Path) {
	case RoutePing, RoutePingAlt:
		s.reply(req, api.TextReply(req.Query["text"]))
		return
	case RouteDisconnectPing:
		s.log.Debug("disconnect ping swallowed",
			zap.String("sender", req.Sender), zap.String("conn_id", req.ConnID))
		return
	case RouteAddConnection, RouteRemoveConnection:
		s.connectionAdmin(req)
		return
	}

	if wire.IsDisconnect(req) {
		if s.tracker.Drop(req.Key()) {
			s.log.Debug("client disconnected",
				zap.String("sender", req.Sender), zap.String("conn_id", req.ConnID))
		}
		return
	}

	s.handle(req)
}

// connectionAdmin attaches or detaches req.Sender and answers "received".
// A detach is answered before the sockets it would travel on are closed.
func (s *Server) connectionAdmin(req *api.Request) {
	remove := path.Base(req.Path) == RouteRemoveConnection
	if remove {
		s.reply(req, api.TextReply(ReplyReceived))
	}
	kind, _, err := s.connectionRoute(req)
	s.countCommand(kind, req.Sender, err)
	switch {
	case err != nil && !remove:
		s.reply(req, api.TextReply(controlError(err)))
	case !remove:
		s.reply(req, api.TextReply(ReplyReceived))
	}
}

// onOpcode hands a non-text frame to the session tracker. It reports
// whether the frame should continue to the handler.
func (s *Server) onOpcode(op protocol.Opcode, req *api.Request) bool {
	act := s.tracker.OnOpcode(op, req)
	switch act.Kind {
	case session.ActionReply:
		s.sendFrame(req.Sender, []string{req.ConnID}, act.Opcode, act.Body)
		return false
	case session.ActionForward:
		return true
	case session.ActionUnrecognized:
		s.log.Warn("unrecognized opcode dropped",
			zap.String("sender", req.Sender),
			zap.String("conn_id", req.ConnID),
			zap.String("flags", req.Header(api.HeaderFlags)))
		return false
	default:
		s.log.Debug("opcode consumed",
			zap.String("sender", req.Sender),
			zap.String("conn_id", req.ConnID),
			zap.Stringer("opcode", op))
		return false
	}
}

// handshake answers the upgrade, starts tracking the session and rewrites
// METHOD so the handler sees an open WebSocket.
func (s *Server) handshake(req *api.Request) bool {
	resp, err := protocol.HandshakeReply(req.Headers, string(req.Body))
	if err != nil {
		s.log.Warn("handshake rejected",
			zap.String("sender", req.Sender),
			zap.String("conn_id", req.ConnID),
			zap.Error(err))
		return false
	}
	if err := s.deliver(req.Sender, []string{req.ConnID}, resp, "handshake"); err != nil {
		return false
	}
	s.tracker.Open(req, s.now())
	setHeader(req.Headers, api.HeaderMethod, api.MethodWebSocketConnect)
	return true
}

// handle calls the handler and routes its reply.
func (s *Server) handle(req *api.Request) {
	rep, err := s.handler.Handle(s.runCtx, req)
	if err != nil {
		s.log.Warn("handler error",
			zap.String("sender", req.Sender),
			zap.String("conn_id", req.ConnID),
			zap.String("path", req.Path),
			zap.Error(err))
		return
	}
	if rep != nil {
		s.reply(req, rep)
	}
}

// setHeader overwrites name, matching an existing key case-insensitively.
func setHeader(h map[string]string, name, value string) {
	for k := range h {
		if k != name && strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
	h[name] = value
}

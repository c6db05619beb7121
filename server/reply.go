// File: server/reply.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/protocol"
	"github.com/momentics/m2relay/core/wire"
	"github.com/momentics/m2relay/internal/session"
)

// Reply encodings, also the "kind" label of the replies metric.
const (
	kindWebSocket = "websocket"
	kindRaw       = "raw"
	kindHTTP      = "http"
)

// EncodeReply renders rep for the transport req arrived on: a WebSocket
// frame for WebSocket methods, the raw body for MONGREL2 and JSON, and a
// one-shot HTTP 200 response otherwise.
func EncodeReply(req *api.Request, rep *api.Reply) ([]byte, string, error) {
	switch m := req.Method(); {
	case req.IsWebSocket():
		op := rep.Opcode
		if op == protocol.OpcodeContinuation {
			op = protocol.OpcodeText
		}
		frame, err := protocol.EncodeFrame(op, rep.Body)
		return frame, kindWebSocket, err
	case m == api.MethodMongrel2 || m == api.MethodJSON:
		return rep.Body, kindRaw, nil
	default:
		return wire.HTTPResponse(http.StatusOK, rep.Body), kindHTTP, nil
	}
}

func (s *Server) reply(req *api.Request, rep *api.Reply) {
	body, kind, err := EncodeReply(req, rep)
	if err != nil {
		s.log.Warn("reply not encodable",
			zap.String("sender", req.Sender),
			zap.String("conn_id", req.ConnID),
			zap.Error(err))
		return
	}
	_ = s.deliver(req.Sender, []string{req.ConnID}, body, kind)
}

// deliver addresses body to connIDs through sender's Connection.
func (s *Server) deliver(sender string, connIDs []string, body []byte, kind string) error {
	c, ok := s.registry.Resolve(sender)
	if !ok {
		s.metrics.RouteErrors.Inc()
		err := fmt.Errorf("%w: sender %s", api.ErrRoute, sender)
		s.log.Warn("reply dropped", zap.Strings("conn_ids", connIDs), zap.Error(err))
		return err
	}
	if err := c.Deliver(wire.EncodeReply(sender, connIDs, body)); err != nil {
		if errors.Is(err, api.ErrWouldBlock) {
			s.metrics.BacklogDrops.Inc()
		}
		s.log.Warn("reply dropped", zap.String("sender", sender), zap.Error(err))
		return err
	}
	s.metrics.Replies.WithLabelValues(kind).Inc()
	return nil
}

func (s *Server) sendFrame(sender string, connIDs []string, op protocol.Opcode, payload []byte) {
	frame, err := protocol.EncodeFrame(op, payload)
	if err != nil {
		s.log.Warn("frame not encodable", zap.Stringer("opcode", op), zap.Error(err))
		return
	}
	_ = s.deliver(sender, connIDs, frame, kindWebSocket)
}

// sendFrames sends one message per sender carrying every connection id.
func (s *Server) sendFrames(sessions []*session.Session, op protocol.Opcode, payload []byte) {
	var order []string
	ids := make(map[string][]string)
	for _, ss := range sessions {
		if _, seen := ids[ss.Key.Sender]; !seen {
			order = append(order, ss.Key.Sender)
		}
		ids[ss.Key.Sender] = append(ids[ss.Key.Sender], ss.Key.ConnID)
	}
	for _, sender := range order {
		s.sendFrame(sender, ids[sender], op, payload)
	}
}

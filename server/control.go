// File: server/control.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control endpoint: one REP reply per request, whatever happens.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/core/wire"
)

func (s *Server) onControl(sock api.Socket) {
	msg, err := sock.Recv()
	if err != nil {
		if !errors.Is(err, api.ErrWouldBlock) {
			s.log.Warn("control recv failed", zap.Error(err))
		}
		return
	}
	s.metrics.Frames.WithLabelValues("control").Inc()

	reply := s.handleControl(string(msg))
	if err := sock.Send([]byte(reply)); err != nil {
		s.log.Error("control reply failed", zap.String("reply", reply), zap.Error(err))
	}
}

// handleControl executes one control line and returns the reply text.
func (s *Server) handleControl(line string) string {
	cmd, err := wire.ParseCommand(line)
	if err != nil {
		if reply, ok := s.handleControlRequest(line); ok {
			return reply
		}
		s.log.Warn("malformed control command", zap.String("line", line), zap.Error(err))
		s.metrics.Commands.WithLabelValues("malformed", "error").Inc()
		return "error: malformed command"
	}

	kind := LookupCommand(cmd.Name)
	reply, err := s.execute(kind, cmd)
	result := "ok"
	if err != nil {
		result = "error"
		reply = controlError(err)
		s.log.Warn("control command failed",
			zap.String("command", cmd.Name),
			zap.Any("args", cmd.Args),
			zap.Error(err))
	} else {
		s.log.Debug("control command",
			zap.String("command", cmd.Name),
			zap.String("reply", reply))
	}
	s.metrics.Commands.WithLabelValues(kind.String(), result).Inc()
	return reply
}

func (s *Server) execute(kind Command, cmd *wire.Command) (string, error) {
	switch kind {
	case CommandPing:
		return ReplyPong, nil

	case CommandSetup, CommandAddConnection:
		args, err := requireArgs(cmd, ArgSender, ArgPush, ArgSub)
		if err != nil {
			return "", err
		}
		if err := s.addConnection(args[0], args[1], args[2]); err != nil {
			return "", err
		}
		if kind == CommandSetup {
			return ReplyConnected, nil
		}
		return ReplyReceived, nil

	case CommandRemoveConnection:
		args, err := requireArgs(cmd, ArgSender)
		if err != nil {
			return "", err
		}
		if err := s.removeConnection(args[0]); err != nil {
			return "", err
		}
		return ReplyReceived, nil

	case CommandBroadcast:
		args, err := requireArgs(cmd, ArgSender, ArgPing)
		if err != nil {
			return "", err
		}
		c, ok := s.registry.Resolve(args[0])
		if !ok {
			return ReplyNoSender, nil
		}
		if err := c.Deliver([]byte(args[0] + " " + args[1])); err != nil {
			return "", err
		}
		return ReplyPinged, nil

	default:
		return "unknown command: " + cmd.Name, nil
	}
}

// handleControlRequest accepts attach and detach requests sent as Mongrel2
// messages instead of command lines. ok is false for anything else.
func (s *Server) handleControlRequest(line string) (reply string, ok bool) {
	req, err := wire.DecodeRequest([]byte(line))
	if err != nil {
		return "", false
	}
	kind, ok, err := s.connectionRoute(req)
	if !ok {
		return "", false
	}
	s.countCommand(kind, req.Sender, err)
	if err != nil {
		return controlError(err), true
	}
	return ReplyReceived, true
}

// connectionRoute runs the attach or detach named by req's path for
// req.Sender. ok is false when the path names neither.
func (s *Server) connectionRoute(req *api.Request) (kind Command, ok bool, err error) {
	switch path.Base(req.Path) {
	case RouteAddConnection:
		var body struct {
			Push string `json:"push"`
			Sub  string `json:"sub"`
		}
		if len(req.Body) > 0 {
			if err := json.Unmarshal(req.Body, &body); err != nil {
				return CommandAddConnection, true, fmt.Errorf("%w: connection body: %v", api.ErrMalformedCommand, err)
			}
		}
		switch {
		case body.Push == "":
			return CommandAddConnection, true, missingArgError(ArgPush)
		case body.Sub == "":
			return CommandAddConnection, true, missingArgError(ArgSub)
		}
		return CommandAddConnection, true, s.addConnection(req.Sender, body.Push, body.Sub)
	case RouteRemoveConnection:
		return CommandRemoveConnection, true, s.removeConnection(req.Sender)
	}
	return CommandUnrecognized, false, nil
}

func (s *Server) addConnection(sender, push, sub string) error {
	_, err := s.registry.Add(sender, push, sub)
	return err
}

func (s *Server) removeConnection(sender string) error {
	if err := s.registry.Remove(sender); err != nil {
		return err
	}
	if n := s.tracker.DropSender(sender); n > 0 {
		s.log.Info("sessions dropped with connection",
			zap.String("sender", sender), zap.Int("sessions", n))
	}
	return nil
}

func (s *Server) countCommand(kind Command, sender string, err error) {
	if err != nil {
		s.log.Warn("connection request failed",
			zap.Stringer("command", kind), zap.String("sender", sender), zap.Error(err))
		s.metrics.Commands.WithLabelValues(kind.String(), "error").Inc()
		return
	}
	s.log.Debug("connection request", zap.Stringer("command", kind), zap.String("sender", sender))
	s.metrics.Commands.WithLabelValues(kind.String(), "ok").Inc()
}

type missingArgError string

func (e missingArgError) Error() string { return "missing argument " + string(e) }

func (e missingArgError) Unwrap() error { return api.ErrInvalidArgument }

func requireArgs(cmd *wire.Command, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		v, ok := cmd.Arg(n)
		if !ok {
			return nil, missingArgError(n)
		}
		out[i] = v
	}
	return out, nil
}

// controlError renders an error as a single control reply line.
func controlError(err error) string {
	var missing missingArgError
	var apiErr *api.Error
	switch {
	case errors.As(err, &missing):
		return "error: " + missing.Error()
	case errors.As(err, &apiErr) && apiErr.Code == api.ErrCodeDuplicateSender:
		return fmt.Sprintf("error: duplicate sender %v", apiErr.Context["sender"])
	case errors.As(err, &apiErr) && apiErr.Code == api.ErrCodeUnknownSender:
		return fmt.Sprintf("error: unknown sender %v", apiErr.Context["sender"])
	default:
		return "error: " + err.Error()
	}
}

// File: server/server.go
// Package server implements the relay event loop: one goroutine polls the
// control socket and every registered inbound socket, keeps WebSocket
// sessions alive with a ping sweep, and routes handler replies back out.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/m2relay/adapters"
	"github.com/momentics/m2relay/affinity"
	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/control"
	"github.com/momentics/m2relay/core/protocol"
	"github.com/momentics/m2relay/internal/session"
	"github.com/momentics/m2relay/internal/transport"
	"github.com/momentics/m2relay/reactor"
)

// Server is the relay. All socket and session state is owned by the
// goroutine running Run; Stop, Stats and the control adapter may be used
// from anywhere.
type Server struct {
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
	factory    api.SocketFactory
	reactor    reactor.Reactor
	ctrl       *adapters.ControlAdapter
	metrics    *control.RelayMetrics
	middleware []adapters.Middleware

	registry  *transport.Registry
	tracker   *session.Tracker
	rep       api.Socket
	handler   api.Handler
	runCtx    context.Context
	decodeLog *rate.Limiter
	evicted   uint64

	// Written by reload listeners, applied by the loop.
	pingInterval atomic.Int64
	closeAck     atomic.Bool
	rejectBinary atomic.Bool

	stop      atomic.Bool
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// Published by the loop for Stats and debug probes.
	iterations  atomic.Uint64
	connections atomic.Int64
	confirmed   atomic.Int64
	pending     atomic.Int64
	deadline    atomic.Int64
}

// NewServer binds the control socket and registers the default connection
// for cfg.Sender.
func NewServer(cfg Config, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		log:       zap.NewNop(),
		now:       time.Now,
		runCtx:    context.Background(),
		decodeLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, o := range opts {
		o(s)
	}
	if s.factory == nil {
		f, err := transport.NewZMQFactory()
		if err != nil {
			return nil, err
		}
		s.factory = f
	}
	if s.reactor == nil {
		s.reactor = reactor.NewZMQReactor()
	}
	if s.ctrl == nil {
		s.ctrl = adapters.NewControlAdapter(cfg)
	}
	s.metrics = s.ctrl.Metrics().Relay

	s.pingInterval.Store(int64(cfg.PingInterval))
	s.closeAck.Store(cfg.CloseAck)
	s.rejectBinary.Store(cfg.RejectBinary)
	s.reload()
	s.ctrl.OnReload(s.reload)

	s.tracker = session.NewTracker(time.Duration(s.pingInterval.Load()), s.now(),
		session.WithLogger(s.log.Named("session")),
		session.WithCloseAck(s.closeAck.Load()),
		session.WithRejectBinary(s.rejectBinary.Load()))
	s.registry = transport.NewRegistry(s.factory, s.reactor, s.onRequest,
		transport.WithBacklogLimit(cfg.BacklogLimit),
		transport.WithLogger(s.log.Named("registry")))
	s.registerProbes()

	if err := s.openControl(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if _, err := s.registry.Add(cfg.Sender, cfg.Inbound, cfg.Outbound); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("default connection: %w", err)
	}
	s.publish()
	return s, nil
}

func (s *Server) openControl() error {
	rep, err := s.factory.NewSocket(api.SocketRep)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	s.rep = rep
	// A stuck control reply may hold the loop for at most ConnectTimeout.
	if err := rep.SetTimeouts(0, s.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	if err := rep.Bind(s.cfg.Control); err != nil {
		return fmt.Errorf("bind control %s: %w", s.cfg.Control, err)
	}
	if err := s.reactor.Register(rep, s.onControl); err != nil {
		return fmt.Errorf("register control: %w", err)
	}
	s.log.Info("control bound", zap.String("addr", s.cfg.Control))
	return nil
}

// Run serves until Stop is called, ctx is cancelled or polling fails, then
// sends CLOSE to every confirmed session and closes all sockets. A clean
// stop returns nil.
func (s *Server) Run(ctx context.Context, h api.Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler: %w", api.ErrInvalidArgument)
	}
	if s.closed.Load() {
		return api.ErrSocketClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	if s.cfg.LoopCPU >= 0 {
		release, err := affinity.Pin(s.cfg.LoopCPU)
		defer release()
		if err != nil {
			s.log.Warn("event loop not pinned", zap.Int("cpu", s.cfg.LoopCPU), zap.Error(err))
		}
	}

	s.runCtx = ctx
	s.handler = s.chain(h)
	s.log.Info("relay running",
		zap.String("sender", s.cfg.Sender),
		zap.String("inbound", s.cfg.Inbound),
		zap.String("outbound", s.cfg.Outbound),
		zap.Duration("ping_interval", s.tracker.Interval()))

	var err error
	for err == nil && !s.stop.Load() && ctx.Err() == nil {
		err = s.iterate()
	}
	if err != nil {
		s.log.Error("relay loop failed", zap.Error(err))
	}
	s.shutdown()
	return errors.Join(err, s.Close())
}

// Stop asks Run to return after the current iteration.
func (s *Server) Stop() {
	s.stop.Store(true)
}

// Close releases every socket. It is called by Run on the way out; call it
// directly only for a server that never ran.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		var errs []error
		if s.registry != nil {
			errs = append(errs, s.registry.CloseAll())
		}
		if s.rep != nil {
			errs = append(errs, s.reactor.Unregister(s.rep), s.rep.Close())
		}
		errs = append(errs, s.reactor.Close(), s.factory.Close())
		s.closeErr = errors.Join(errs...)
		s.publish()
	})
	return s.closeErr
}

// Control exposes config, metrics and probes.
func (s *Server) Control() *adapters.ControlAdapter {
	return s.ctrl
}

// Stats returns the values last published by the loop.
func (s *Server) Stats() Stats {
	return Stats{
		Iterations:  s.iterations.Load(),
		Connections: int(s.connections.Load()),
		Confirmed:   int(s.confirmed.Load()),
		Pending:     int(s.pending.Load()),
		Deadline:    time.Unix(0, s.deadline.Load()),
		Running:     s.running.Load(),
	}
}

func (s *Server) chain(h api.Handler) api.Handler {
	mh := adapters.NewMiddlewareHandler(h).
		Use(adapters.RecoveryMiddleware(s.log, s.metrics.HandlerPanics.Inc)).
		Use(adapters.MetricsMiddleware(s.metrics.Handled))
	for _, mw := range s.middleware {
		mh.Use(mw)
	}
	return mh.Build()
}

// iterate runs one pass of the loop: sweep if due, poll once, flush
// backlogs.
func (s *Server) iterate() error {
	now := s.now()
	s.applyReload(now)
	s.sweep(now)

	if _, err := s.reactor.Poll(s.pollTimeout(s.now())); err != nil {
		if !errors.Is(err, reactor.ErrInterrupted) {
			return fmt.Errorf("poll: %w", err)
		}
		s.log.Debug("poll interrupted", zap.Error(err))
	}
	s.registry.Flush()
	s.publish()
	s.iterations.Add(1)
	return nil
}

// pollTimeout never waits past the next sweep.
func (s *Server) pollTimeout(now time.Time) time.Duration {
	d := s.cfg.PollTick
	if until := s.tracker.Deadline().Sub(now); until < d {
		d = until
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Server) sweep(now time.Time) {
	pings, swept := s.tracker.Sweep(now)
	if !swept {
		return
	}
	s.metrics.Sweeps.Inc()
	if _, evicted := s.tracker.Sweeps(); evicted > s.evicted {
		s.metrics.Evictions.Add(float64(evicted - s.evicted))
		s.evicted = evicted
	}
	s.sendFrames(pings, protocol.OpcodePing, nil)
	s.metrics.PingsSent.Add(float64(len(pings)))
}

// shutdown owes a CLOSE to every confirmed session.
func (s *Server) shutdown() {
	closing := s.tracker.CloseAll()
	s.sendFrames(closing, protocol.OpcodeClose, nil)
	s.registry.Flush()
	s.log.Info("relay stopping",
		zap.Int("closed_sessions", len(closing)),
		zap.Int("connections", s.registry.Len()))
}

// reload copies the live runtime keys into atomics. It runs on whatever
// goroutine changed the config.
func (s *Server) reload() {
	snap := s.ctrl.GetConfig()
	if d, ok := control.DurationValue(snap, control.KeyPingInterval); ok && d > 0 {
		s.pingInterval.Store(int64(d))
	}
	if b, ok := control.BoolValue(snap, control.KeyCloseAck); ok {
		s.closeAck.Store(b)
	}
	if b, ok := control.BoolValue(snap, control.KeyRejectBinary); ok {
		s.rejectBinary.Store(b)
	}
	s.log.Debug("runtime config applied",
		zap.Duration(control.KeyPingInterval, time.Duration(s.pingInterval.Load())),
		zap.Bool(control.KeyCloseAck, s.closeAck.Load()),
		zap.Bool(control.KeyRejectBinary, s.rejectBinary.Load()))
}

func (s *Server) applyReload(now time.Time) {
	s.tracker.SetInterval(time.Duration(s.pingInterval.Load()), now)
	s.tracker.SetCloseAck(s.closeAck.Load())
	s.tracker.SetRejectBinary(s.rejectBinary.Load())
}

func (s *Server) publish() {
	c, p := s.tracker.Counts()
	s.confirmed.Store(int64(c))
	s.pending.Store(int64(p))
	s.connections.Store(int64(s.registry.Len()))
	s.deadline.Store(s.tracker.Deadline().UnixNano())

	s.metrics.Sessions.WithLabelValues("confirmed").Set(float64(c))
	s.metrics.Sessions.WithLabelValues("pending").Set(float64(p))
	s.metrics.Connections.Set(float64(s.registry.Len()))
}

func (s *Server) registerProbes() {
	s.ctrl.RegisterDebugProbe("loop.iterations", func() any { return s.iterations.Load() })
	s.ctrl.RegisterDebugProbe("loop.running", func() any { return s.running.Load() })
	s.ctrl.RegisterDebugProbe("registry.connections", func() any { return s.connections.Load() })
	s.ctrl.RegisterDebugProbe("sessions.confirmed", func() any { return s.confirmed.Load() })
	s.ctrl.RegisterDebugProbe("sessions.pending", func() any { return s.pending.Load() })
	s.ctrl.RegisterDebugProbe("sessions.next_sweep", func() any {
		return time.Unix(0, s.deadline.Load()).UTC().Format(time.RFC3339Nano)
	})
}

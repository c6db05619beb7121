// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Middleware chain for api.Handler: logging, panic recovery, metrics.

package adapters

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/m2relay/api"
)

// Middleware wraps a Handler.
type Middleware func(api.Handler) api.Handler

// MiddlewareHandler wraps a base Handler and applies middleware in chain.
// The first middleware added is the outermost.
type MiddlewareHandler struct {
	handler    api.Handler
	middleware []Middleware
}

// NewMiddlewareHandler creates a new MiddlewareHandler for the given base handler.
func NewMiddlewareHandler(handler api.Handler) *MiddlewareHandler {
	return &MiddlewareHandler{handler: handler}
}

// Use appends a middleware to the chain.
func (m *MiddlewareHandler) Use(mw Middleware) *MiddlewareHandler {
	m.middleware = append(m.middleware, mw)
	return m
}

// Build composes the chain once.
func (m *MiddlewareHandler) Build() api.Handler {
	h := m.handler
	for i := len(m.middleware) - 1; i >= 0; i-- {
		h = m.middleware[i](h)
	}
	return h
}

// Handle applies all middleware then calls the base handler.
func (m *MiddlewareHandler) Handle(ctx context.Context, req *api.Request) (*api.Reply, error) {
	return m.Build().Handle(ctx, req)
}

// LoggingMiddleware logs each request at debug level and failures at warn.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next api.Handler) api.Handler {
		return api.HandlerFunc(func(ctx context.Context, req *api.Request) (*api.Reply, error) {
			log.Debug("request",
				zap.String("sender", req.Sender),
				zap.String("conn_id", req.ConnID),
				zap.String("path", req.Path),
				zap.String("method", req.Method()))
			rep, err := next.Handle(ctx, req)
			if err != nil {
				log.Warn("handler failed",
					zap.String("sender", req.Sender),
					zap.String("conn_id", req.ConnID),
					zap.Error(err))
			}
			return rep, err
		})
	}
}

// RecoveryMiddleware turns a handler panic into an error wrapping
// api.ErrHandlerPanic. onPanic, when not nil, runs after the panic is logged.
func RecoveryMiddleware(log *zap.Logger, onPanic func()) Middleware {
	return func(next api.Handler) api.Handler {
		return api.HandlerFunc(func(ctx context.Context, req *api.Request) (rep *api.Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						zap.String("sender", req.Sender),
						zap.String("conn_id", req.ConnID),
						zap.String("path", req.Path),
						zap.Any("panic", r),
						zap.Stack("stack"))
					if onPanic != nil {
						onPanic()
					}
					rep, err = nil, fmt.Errorf("%v: %w", r, api.ErrHandlerPanic)
				}
			}()
			return next.Handle(ctx, req)
		})
	}
}

// MetricsMiddleware counts requests by method and result ("ok", "empty",
// "error") on a vector with labels method and result.
func MetricsMiddleware(counter *prometheus.CounterVec) Middleware {
	return func(next api.Handler) api.Handler {
		return api.HandlerFunc(func(ctx context.Context, req *api.Request) (*api.Reply, error) {
			rep, err := next.Handle(ctx, req)
			result := "ok"
			switch {
			case err != nil:
				result = "error"
			case rep == nil:
				result = "empty"
			}
			counter.WithLabelValues(req.Method(), result).Inc()
			return rep, err
		})
	}
}

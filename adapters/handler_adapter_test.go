package adapters_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/m2relay/adapters"
	"github.com/momentics/m2relay/api"
)

func TestMiddlewareOrder(t *testing.T) {
	var trace []string
	tag := func(name string) adapters.Middleware {
		return func(next api.Handler) api.Handler {
			return api.HandlerFunc(func(ctx context.Context, req *api.Request) (*api.Reply, error) {
				trace = append(trace, name)
				return next.Handle(ctx, req)
			})
		}
	}
	base := api.HandlerFunc(func(context.Context, *api.Request) (*api.Reply, error) {
		trace = append(trace, "base")
		return api.TextReply("ok"), nil
	})

	h := adapters.NewMiddlewareHandler(base).Use(tag("outer")).Use(tag("inner"))
	rep, err := h.Handle(context.Background(), &api.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(rep.Body))
	assert.Equal(t, []string{"outer", "inner", "base"}, trace)
}

func TestRecoveryMiddleware(t *testing.T) {
	panics := 0
	h := adapters.RecoveryMiddleware(zaptest.NewLogger(t), func() { panics++ })(
		api.HandlerFunc(func(context.Context, *api.Request) (*api.Reply, error) {
			panic("boom")
		}))

	rep, err := h.Handle(context.Background(), &api.Request{Sender: "s", ConnID: "1"})
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, api.ErrHandlerPanic)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, panics)
}

func TestMetricsAndLoggingMiddleware(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "handled_total"}, []string{"method", "result"})
	fail := errors.New("nope")
	base := api.HandlerFunc(func(_ context.Context, req *api.Request) (*api.Reply, error) {
		switch req.Path {
		case "/err":
			return nil, fail
		case "/empty":
			return nil, nil
		}
		return api.TextReply("x"), nil
	})
	h := adapters.NewMiddlewareHandler(base).
		Use(adapters.MetricsMiddleware(counter)).
		Use(adapters.LoggingMiddleware(zaptest.NewLogger(t))).
		Build()

	get := map[string]string{api.HeaderMethod: "GET"}
	for _, p := range []string{"/", "/", "/err", "/empty"} {
		_, _ = h.Handle(context.Background(), &api.Request{Path: p, Headers: get})
	}
	assert.Equal(t, 2.0, counterValue(t, counter.WithLabelValues("GET", "ok")))
	assert.Equal(t, 1.0, counterValue(t, counter.WithLabelValues("GET", "error")))
	assert.Equal(t, 1.0, counterValue(t, counter.WithLabelValues("GET", "empty")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

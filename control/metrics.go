// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for the relay on a private Prometheus registry.
// Ad-hoc values set with Set are kept alongside and show up in snapshots.

package control

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Namespace prefixes every relay metric.
const Namespace = "m2relay"

// RelayMetrics are the collectors updated by the event loop.
type RelayMetrics struct {
	Frames        *prometheus.CounterVec
	DecodeErrors  prometheus.Counter
	Replies       *prometheus.CounterVec
	RouteErrors   prometheus.Counter
	Commands      *prometheus.CounterVec
	Sweeps        prometheus.Counter
	PingsSent     prometheus.Counter
	Evictions     prometheus.Counter
	BacklogDrops  prometheus.Counter
	HandlerPanics prometheus.Counter
	Handled       *prometheus.CounterVec
	Connections   prometheus.Gauge
	Sessions      *prometheus.GaugeVec
}

func newRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Inbound messages read, by source (request, control).",
		}, []string{"source"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "frames",
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped because they did not decode.",
		}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replies",
			Name:      "sent_total",
			Help:      "Replies handed to an outbound socket, by encoding.",
		}, []string{"kind"}),
		RouteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replies",
			Name:      "route_errors_total",
			Help:      "Replies dropped because the sender has no connection.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Control commands handled, by command and result.",
		}, []string{"command", "result"}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "sweeps_total",
			Help:      "Ping sweeps run.",
		}),
		PingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "pings_sent_total",
			Help:      "Sessions pinged by sweeps.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "evictions_total",
			Help:      "Sessions dropped for not answering a ping.",
		}),
		BacklogDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replies",
			Name:      "backlog_drops_total",
			Help:      "Replies dropped because an outbound backlog was full.",
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "handler",
			Name:      "panics_total",
			Help:      "Request handler panics recovered by the loop.",
		}),
		Handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "handler",
			Name:      "requests_total",
			Help:      "Requests passed to the handler, by method and result.",
		}, []string{"method", "result"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "registry",
			Name:      "connections",
			Help:      "Registered sender connections.",
		}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "tracked",
			Help:      "Tracked WebSocket sessions, by generation.",
		}, []string{"generation"}),
	}
}

func (m *RelayMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Frames, m.DecodeErrors, m.Replies, m.RouteErrors, m.Commands,
		m.Sweeps, m.PingsSent, m.Evictions, m.BacklogDrops, m.HandlerPanics,
		m.Handled, m.Connections, m.Sessions,
	}
}

// MetricsRegistry holds the Prometheus registry and ad-hoc values.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time

	registry *prometheus.Registry
	Relay    *RelayMetrics
}

// NewMetricsRegistry creates a registry with the relay collectors and the Go
// runtime collector.
func NewMetricsRegistry() *MetricsRegistry {
	mr := &MetricsRegistry{
		metrics:  make(map[string]any),
		registry: prometheus.NewRegistry(),
		Relay:    newRelayMetrics(),
	}
	mr.registry.MustRegister(mr.Relay.collectors()...)
	mr.registry.MustRegister(collectors.NewGoCollector())
	return mr
}

// PrometheusRegistry exposes the underlying registry, e.g. for promhttp.
func (mr *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return mr.registry
}

// Set sets or updates an ad-hoc metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Updated returns when Set was last called.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot flattens the relay's Prometheus metrics into a map keyed by
// name and labels, e.g. `m2relay_control_commands_total{command="ping",result="ok"}`,
// and adds the ad-hoc values. Go runtime metrics are left out.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	out := make(map[string]any)
	if families, err := mr.registry.Gather(); err == nil {
		for _, mf := range families {
			if !strings.HasPrefix(mf.GetName(), Namespace+"_") {
				continue
			}
			for _, m := range mf.GetMetric() {
				if v, ok := sampleValue(mf.GetType(), m); ok {
					out[seriesKey(mf.GetName(), m.GetLabel())] = v
				}
			}
		}
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

func sampleValue(t dto.MetricType, m *dto.Metric) (float64, bool) {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	default:
		return 0, false
	}
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, lp := range labels {
		parts = append(parts, lp.GetName()+`="`+lp.GetValue()+`"`)
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

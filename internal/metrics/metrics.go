// Package metrics provides Prometheus metrics for helpconv
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helpconv/internal/conversation"
)

// Metrics holds all Prometheus metrics for helpconv. Every method is safe
// on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Websocket metrics
	ConnectionsOpen  prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	HandshakesTotal  *prometheus.CounterVec
	FramesTotal      *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	PushesTotal      *prometheus.CounterVec
	SlowClientsTotal prometheus.Counter

	// Backend metrics
	BackendOpsTotal    *prometheus.CounterVec
	BackendOpDuration  *prometheus.HistogramVec
	ContentLoadsTotal  prometheus.Counter
	ServerStartSeconds prometheus.Gauge
}

// New creates all metrics on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.ConnectionsOpen = f.NewGauge(prometheus.GaugeOpts{
		Name: "helpconv_ws_connections_open",
		Help: "Number of open websocket connections",
	})
	m.ConnectionsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "helpconv_ws_connections_total",
		Help: "Total number of accepted websocket connections",
	})
	m.HandshakesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "helpconv_ws_handshakes_total",
		Help: "Session handshakes by result",
	}, []string{"result"})
	m.FramesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "helpconv_ws_frames_total",
		Help: "Inbound frames by kind",
	}, []string{"kind"})
	m.FramesDropped = f.NewCounterVec(prometheus.CounterOpts{
		Name: "helpconv_ws_frames_dropped_total",
		Help: "Inbound frames dropped, by reason",
	}, []string{"reason"})
	m.PushesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "helpconv_ws_pushes_total",
		Help: "Outbound pushes by key",
	}, []string{"key"})
	m.SlowClientsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "helpconv_ws_slow_clients_total",
		Help: "Connections closed because their send buffer filled",
	})

	m.BackendOpsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "helpconv_backend_operations_total",
		Help: "Total number of storage backend operations",
	}, []string{"operation", "status"})
	m.BackendOpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helpconv_backend_operation_duration_seconds",
		Help:    "Duration of storage backend operations in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})
	m.ContentLoadsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "helpconv_content_loads_total",
		Help: "Lazy message content loads that reached the backend",
	})
	m.ServerStartSeconds = f.NewGauge(prometheus.GaugeOpts{
		Name: "helpconv_server_start_time_seconds",
		Help: "Unix time the server started",
	})
	m.ServerStartSeconds.Set(float64(time.Now().Unix()))
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveContainer exports the container's object counts, read at scrape
// time.
func (m *Metrics) ObserveContainer(c *conversation.Container) {
	if m == nil {
		return
	}
	gauge := func(name, help string, pick func(conversation.Stats) int) {
		promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(c.Stats()))
		})
	}
	gauge("helpconv_students", "Student conversation lists held in memory", func(s conversation.Stats) int { return s.Students })
	gauge("helpconv_conversations", "Conversations held in memory", func(s conversation.Stats) int { return s.Conversations })
	gauge("helpconv_messages", "Messages held in memory", func(s conversation.Stats) int { return s.Messages })
	gauge("helpconv_listeners", "Registered container listeners", func(s conversation.Stats) int { return s.Listeners })
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsOpen.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Dec()
}

// Handshake records a handshake result: "ok", "invalid" or "unauthorized".
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.HandshakesTotal.WithLabelValues(result).Inc()
}

// Frame records an accepted inbound frame.
func (m *Metrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind).Inc()
}

// FrameDropped records an inbound frame that was ignored.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// Push records an outbound push.
func (m *Metrics) Push(key string) {
	if m == nil {
		return
	}
	m.PushesTotal.WithLabelValues(key).Inc()
}

// SlowClient records a connection dropped for a full send buffer.
func (m *Metrics) SlowClient() {
	if m == nil {
		return
	}
	m.SlowClientsTotal.Inc()
}

// RecordBackendOp records one backend call.
func (m *Metrics) RecordBackendOp(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackendOpsTotal.WithLabelValues(operation, status).Inc()
	m.BackendOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

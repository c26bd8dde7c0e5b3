// Package metrics defines the Prometheus collectors for sessions and the
// realtime gateway. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trackr"

// Refresh outcomes, used as the "result" label.
const (
	RefreshOK      = "ok"
	RefreshMissing = "missing"
	RefreshInvalid = "invalid"
	RefreshExpired = "expired"
	RefreshRevoked = "revoked"
	RefreshError   = "error"
)

type Metrics struct {
	SessionsIssued    *prometheus.CounterVec
	Refreshes         *prometheus.CounterVec
	ReuseDetected     prometheus.Counter
	CascadeRevoked    prometheus.Counter
	Connections       prometheus.Gauge
	HandshakeRejected *prometheus.CounterVec
	Joins             *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "sessions_issued_total",
			Help: "Refresh lineages started, by entry point.",
		}, []string{"via"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"result"}),
		ReuseDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_reuse_detected_total",
			Help: "Revoked refresh tokens presented again.",
		}),
		CascadeRevoked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_cascade_revoked_total",
			Help: "Refresh records revoked because a sibling token was replayed.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connections",
			Help: "Open realtime connections.",
		}),
		HandshakeRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "handshake_rejected_total",
			Help: "Refused realtime handshakes by reason.",
		}, []string{"reason"}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "joins_total",
			Help: "join_workspace requests by result.",
		}, []string{"result"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "events_published_total",
			Help: "Broadcast calls by event name.",
		}, []string{"event"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "deliveries_total",
			Help: "Per-connection delivery attempts by outcome.",
		}, []string{"result"}),
	}
}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionIssued(via string) {
	if m == nil {
		return
	}
	m.SessionsIssued.WithLabelValues(via).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Reuse(cascaded int) {
	if m == nil {
		return
	}
	m.ReuseDetected.Inc()
	m.CascadeRevoked.Add(float64(cascaded))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) HandshakeReject(reason string) {
	if m == nil {
		return
	}
	m.HandshakeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Join(result string) {
	if m == nil {
		return
	}
	m.Joins.WithLabelValues(result).Inc()
}

func (m *Metrics) Published(event string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(event).Inc()
	m.Deliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.Deliveries.WithLabelValues("dropped").Add(float64(dropped))
}

// Package monitor exposes session counters in the Prometheus format.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "posturectl"

// Monitor holds the session metrics on its own registry.
type Monitor struct {
	registry *prometheus.Registry

	SessionsStarted  *prometheus.CounterVec
	SessionsFinished *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	StreamEvents     *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	Active           prometheus.Gauge
	OverallScore     prometheus.Gauge
}

func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of analysis sessions started",
			},
			[]string{"source"},
		),
		SessionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_finished_total",
				Help:      "Total number of analysis sessions that left the streaming phase",
			},
			[]string{"source", "outcome"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of switches to the synthetic generator",
			},
			[]string{"reason"},
		),
		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Total number of events applied to session state",
			},
			[]string{"kind"},
		),
		PersistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Total number of completed sessions the backend did not accept",
			},
		),
		Active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_active",
				Help:      "1 while a session is connecting or streaming",
			},
		),
		OverallScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "overall_score",
				Help:      "Overall score of the current snapshot",
			},
		),
	}

	m.registry.MustRegister(
		m.SessionsStarted,
		m.SessionsFinished,
		m.Fallbacks,
		m.StreamEvents,
		m.PersistFailures,
		m.Active,
		m.OverallScore,
	)
	return m
}

func (m *Monitor) SessionStarted(source string) {
	m.SessionsStarted.WithLabelValues(source).Inc()
	m.Active.Set(1)
}

func (m *Monitor) SessionFinished(source, outcome string) {
	m.SessionsFinished.WithLabelValues(source, outcome).Inc()
	m.Active.Set(0)
}

func (m *Monitor) Fallback(reason string) {
	m.Fallbacks.WithLabelValues(reason).Inc()
}

func (m *Monitor) StreamEvent(kind string, score float64) {
	m.StreamEvents.WithLabelValues(kind).Inc()
	if score > 0 {
		m.OverallScore.Set(score)
	}
}

func (m *Monitor) PersistFailed() {
	m.PersistFailures.Inc()
}

// Handler serves the registry for scraping.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

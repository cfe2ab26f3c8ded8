package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	interceptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applockd",
			Subsystem: "lock",
			Name:      "interceptions_total",
			Help:      "Number of protected-app launches intercepted.",
		}, []string{"app"},
	)
	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applockd",
			Subsystem: "lock",
			Name:      "verifications_total",
			Help:      "Verification session results by outcome.",
		}, []string{"app", "outcome"},
	)
	graceHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applockd",
			Subsystem: "lock",
			Name:      "grace_hits_total",
			Help:      "Events suppressed because the app was inside its grace window.",
		}, []string{"app"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applockd",
			Subsystem: "lock",
			Name:      "state_transitions_total",
			Help:      "Coordinator state transitions per app key.",
		}, []string{"app", "from", "to"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "applockd",
			Subsystem: "lock",
			Name:      "active_sessions",
			Help:      "Verification sessions currently in flight.",
		},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applockd",
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Process events delivered by the notification source.",
		}, []string{"kind"},
	)
	malformedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "applockd",
			Subsystem: "watcher",
			Name:      "malformed_events_total",
			Help:      "Process observations rejected at the notification boundary.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{interceptions, verifications, graceHits, stateTransitions, activeSessions, events, malformedEvents}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers with the default prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncInterception(app string) {
	if regOK.Load() {
		interceptions.WithLabelValues(app).Inc()
	}
}

func IncVerification(app, outcome string) {
	if regOK.Load() {
		verifications.WithLabelValues(app, outcome).Inc()
	}
}

func IncGraceHit(app string) {
	if regOK.Load() {
		graceHits.WithLabelValues(app).Inc()
	}
}

func RecordStateTransition(app, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(app, from, to).Inc()
	}
}

func AddActiveSessions(delta float64) {
	if regOK.Load() {
		activeSessions.Add(delta)
	}
}

func IncEvent(kind string) {
	if regOK.Load() {
		events.WithLabelValues(kind).Inc()
	}
}

func IncMalformedEvent() {
	if regOK.Load() {
		malformedEvents.Inc()
	}
}

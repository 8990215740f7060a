package metrics

import (
	"duckcoding-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics tracks the session registry.
type SessionMetrics struct {
	eventsTotal     *prometheus.CounterVec
	activityDropped prometheus.Counter
	eventsDropped   prometheus.Counter
	prunedTotal     *prometheus.CounterVec
}

// NewSessionMetrics creates and registers session metrics with the provided registry.
func NewSessionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SessionMetrics {
	sm := &SessionMetrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sessions",
				Name:      "events_total",
				Help:      "Session registry changes by event type",
			},
			[]string{"type"},
		),
		activityDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "sessions",
			Name:      "activity_dropped_total",
			Help:      "Activity records dropped because the queue was full",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "sessions",
			Name:      "events_dropped_total",
			Help:      "Events not delivered to slow subscribers",
		}),
		prunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sessions",
				Name:      "pruned_total",
				Help:      "Sessions removed by retention",
			},
			[]string{"tool"},
		),
	}

	registry.MustRegister(
		sm.eventsTotal,
		sm.activityDropped,
		sm.eventsDropped,
		sm.prunedTotal,
	)

	return sm
}

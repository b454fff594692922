package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	draftWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvforge",
			Subsystem: "drafts",
			Name:      "written_total",
			Help:      "Draft writes by outcome.",
		},
		[]string{"outcome"},
	)

	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvforge",
			Subsystem: "drafts",
			Name:      "conversions_total",
			Help:      "Draft conversions by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	draftsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cvforge",
			Subsystem: "drafts",
			Name:      "purged_total",
			Help:      "Expired drafts physically deleted.",
		},
	)
)

// ObserveDraftWrite counts one draft write.
func ObserveDraftWrite(outcome string) {
	draftWritesTotal.WithLabelValues(outcome).Inc()
}

// ObserveConversion counts one convert attempt.
func ObserveConversion(trigger, outcome string) {
	conversionsTotal.WithLabelValues(trigger, outcome).Inc()
}

// ObservePurge adds n purged drafts.
func ObservePurge(n int64) {
	if n > 0 {
		draftsPurgedTotal.Add(float64(n))
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded in warden_guarded_calls_total.
const (
	outcomeAllowed  = "allowed"
	outcomeRejected = "rejected"
	outcomePanicked = "panicked"
)

// Metrics counts guarded calls. A nil *Metrics records nothing.
type Metrics struct {
	calls      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the guard metrics and registers them with
// registerer. Pass prometheus.DefaultRegisterer to expose them on the
// default registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "guarded_calls_total",
				Help:      "Guarded entrypoint calls by outcome: allowed, rejected or panicked",
			},
			[]string{"entrypoint", "outcome"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warden",
				Name:      "guard_rejections_total",
				Help:      "Guarded calls rejected, by the guard that rejected them",
			},
			[]string{"entrypoint", "guard"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "warden",
				Name:      "entrypoint_duration_seconds",
				Help:      "Time spent in entrypoint bodies that passed their guards, including suspensions",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"entrypoint"},
		),
	}
	for _, collector := range []prometheus.Collector{metrics.calls, metrics.rejections, metrics.duration} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// finished records a body that ran, whether it returned or panicked.
func (m *Metrics) finished(entrypoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(entrypoint, outcome).Inc()
	m.duration.WithLabelValues(entrypoint).Observe(elapsed.Seconds())
}

func (m *Metrics) rejected(entrypoint, guard string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(entrypoint, outcomeRejected).Inc()
	m.rejections.WithLabelValues(entrypoint, guard).Inc()
}

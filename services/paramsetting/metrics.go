package paramsetting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	commands      *prometheus.CounterVec
	dropped       prometheus.Counter
	verifications *prometheus.CounterVec
	flips         prometheus.Counter
	commitSeconds prometheus.Histogram
}

// newMetrics registers the background task collectors with reg. A nil reg
// yields working but unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vslib",
			Subsystem: "param",
			Name:      "commands_total",
			Help:      "Parameter commands processed, by result code.",
		}, []string{"code"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vslib",
			Subsystem: "param",
			Name:      "commands_dropped_total",
			Help:      "Commands evicted from the full command queue.",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vslib",
			Subsystem: "param",
			Name:      "verifications_total",
			Help:      "Component verifications, by outcome (committed, rejected, held).",
		}, []string{"outcome"}),
		flips: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vslib",
			Subsystem: "param",
			Name:      "buffer_flips_total",
			Help:      "Buffer switch flips.",
		}),
		commitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vslib",
			Subsystem: "param",
			Name:      "commit_duration_seconds",
			Help:      "Time spent verifying and committing one batch.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

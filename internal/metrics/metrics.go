package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	GenerationsStarted   prometheus.Counter
	GenerationsSucceeded prometheus.Counter
	GenerationsFailed    prometheus.Counter
	ModerationBlocked    prometheus.Counter
	GenerationSeconds    prometheus.Histogram
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			GenerationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "picchat",
				Name:      "generations_started_total",
				Help:      "Total image generation requests accepted into the flow",
			}),
			GenerationsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "picchat",
				Name:      "generations_succeeded_total",
				Help:      "Total image generations that produced an agent message",
			}),
			GenerationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "picchat",
				Name:      "generations_failed_total",
				Help:      "Total image generations that ended in a failure message",
			}),
			ModerationBlocked: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "picchat",
				Name:      "moderation_blocked_total",
				Help:      "Total requests blocked by the content policy gate",
			}),
			GenerationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "picchat",
				Name:      "generation_duration_seconds",
				Help:      "Wall clock duration of successful image generations",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}),
		}
		prometheus.MustRegister(
			global.GenerationsStarted,
			global.GenerationsSucceeded,
			global.GenerationsFailed,
			global.ModerationBlocked,
			global.GenerationSeconds,
		)
	})
	return global
}

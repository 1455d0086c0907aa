package registration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "regd",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Number of registration submissions attempted",
	})

	ineligibleBlocksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "regd",
		Subsystem: "scheduler",
		Name:      "ineligible_blocks_total",
		Help:      "Number of blocks skipped because they fall outside this instance's slot",
	})

	outcomesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "regd",
		Subsystem: "scheduler",
		Name:      "outcomes_total",
		Help:      "Classified results of submissions and finalization watches",
	}, []string{"class"})

	dispatchLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "regd",
		Subsystem: "scheduler",
		Name:      "dispatch_latency_seconds",
		Help:      "Latency of signing and dispatching an extrinsic",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	finalizationLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "regd",
		Subsystem: "tracker",
		Name:      "finalization_latency_seconds",
		Help:      "Time from dispatch to finalized inclusion",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	})

	droppedWatchesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "regd",
		Subsystem: "tracker",
		Name:      "dropped_watches_total",
		Help:      "Finalization watches dropped because the tracker queue was full",
	})
)

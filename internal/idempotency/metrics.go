package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var replayWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ledger_idempotency_replay_wait_seconds",
	Help:    "Time spent waiting for an in-flight request with the same key",
	Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
})

package service

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer attempts by outcome",
	}, []string{"outcome"})

	transferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_transfer_duration_seconds",
		Help:    "Time spent in TransferFunds, including replay waits",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"outcome"})
)

const (
	outcomeCreated  = "created"
	outcomeReplayed = "replayed"
)

func outcomeOf(err error) string {
	return strings.ToLower(string(domain.CodeOf(err)))
}

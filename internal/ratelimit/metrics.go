package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var limiterRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_rate_limiter_rejections_total",
	Help: "Units refused by the leaky-bucket limiter, by reason",
}, []string{"reason"})

const (
	reasonLimited = "limited"
	reasonBusy    = "busy"
)

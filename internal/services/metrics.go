package rewards

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_plays_total",
			Help: "Plays by game and result",
		},
		[]string{"game", "result"},
	)
	creditedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_credited_total",
			Help: "Internal currency credited by source",
		},
		[]string{"source"},
	)
	redemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_redemptions_total",
			Help: "Redemption state changes by channel",
		},
		[]string{"channel", "state"},
	)
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_retries_total",
			Help: "Retried operations after transient failures",
		},
		[]string{"operation"},
	)
)

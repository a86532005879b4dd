package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var confirmationsDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "wallet_confirmations_dropped_total",
		Help: "Confirmations discarded because the buffer was full",
	},
)

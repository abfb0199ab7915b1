package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks successful loads by record kind
	StoreHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mw_store_hits_total",
			Help: "Total number of store loads that found a record",
		},
		[]string{"kind"},
	)

	// StoreMisses tracks loads of absent or expired records
	StoreMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mw_store_misses_total",
			Help: "Total number of store loads that found no record",
		},
		[]string{"kind"},
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mw_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)

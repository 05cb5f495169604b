// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlocksConnected    prometheus.Counter
	prometheusBlocksDisconnected prometheus.Counter
	prometheusDeltasWritten      prometheus.Counter
	prometheusDeltasRemoved      prometheus.Counter
	prometheusUnconfirmedEntries prometheus.Gauge
	prometheusTipHeight          prometheus.Gauge

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlocksConnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "addrindex",
			Name:      "blocks_connected",
			Help:      "Number of blocks connected to the address index",
		},
	)
	prometheusBlocksDisconnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "addrindex",
			Name:      "blocks_disconnected",
			Help:      "Number of blocks disconnected from the address index",
		},
	)
	prometheusDeltasWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "addrindex",
			Name:      "deltas_written",
			Help:      "Number of address delta entries written",
		},
	)
	prometheusDeltasRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "addrindex",
			Name:      "deltas_removed",
			Help:      "Number of address delta entries removed by disconnects",
		},
	)
	prometheusUnconfirmedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "addrindex",
			Name:      "unconfirmed_entries",
			Help:      "Number of unconfirmed address entries held in memory",
		},
	)
	prometheusTipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "addrindex",
			Name:      "tip_height",
			Help:      "Height of the address index tip",
		},
	)
}

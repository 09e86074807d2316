package bufferpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depthstream_bufferpool_exhausted_total",
			Help: "Number of PoolExhausted events raised by the buffer pool",
		},
		[]string{"kind"},
	)

	inUseGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depthstream_bufferpool_in_use",
			Help: "Buffers currently checked out, per stream kind",
		},
		[]string{"kind"},
	)

	totalGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depthstream_bufferpool_total",
			Help: "Total allocated buffers, per stream kind",
		},
		[]string{"kind"},
	)
)

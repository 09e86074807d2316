package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientCountGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depthstream_broadcast_clients",
		Help: "Number of identified subscribers currently connected.",
	})

	sendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depthstream_broadcast_send_errors_total",
		Help: "Total per-subscriber send failures during broadcast.",
	})

	identificationTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depthstream_broadcast_identification_timeouts_total",
		Help: "Total connections closed for failing to identify in time.",
	})
)

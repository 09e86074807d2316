package sensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fpsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "depthstream_sensor_fps",
		Help: "Frames processed per second over the trailing 1s window, per sensor kind.",
	}, []string{"kind"})

	queueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "depthstream_sensor_queue_depth",
		Help: "Current queue depth of frames awaiting worker dispatch, per sensor kind.",
	}, []string{"kind"})

	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthstream_sensor_restarts_total",
		Help: "Total worker restarts performed by the sensor supervision loop, per sensor kind.",
	}, []string{"kind"})

	missedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depthstream_sensor_missed_frames_total",
		Help: "Total frames dropped due to queue overflow, per sensor kind.",
	}, []string{"kind"})
)

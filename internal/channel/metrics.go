package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "job_channel_state",
		Help: "Connection state of the job status channel (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
	})

	connectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "job_channel_connect_attempts_total",
		Help: "Total number of connection attempts to the job status service",
	})

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_channel_events_total",
			Help: "Total number of events received by topic",
		},
		[]string{"topic"},
	)

	malformedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "job_channel_malformed_frames_total",
		Help: "Total number of frames skipped because they could not be decoded",
	})
)

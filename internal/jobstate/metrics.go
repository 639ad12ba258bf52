package jobstate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_state_transitions_total",
			Help: "Total number of job lifecycle transitions by target status",
		},
		[]string{"to"},
	)

	anomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_event_anomalies_total",
			Help: "Total number of job observations dropped as protocol anomalies",
		},
		[]string{"reason"},
	)
)

package maintenance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_list_refreshes_total",
			Help: "Total number of job list refreshes by result",
		},
		[]string{"result"},
	)

	pollingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "job_list_polling_active",
		Help: "Whether periodic list polling is running (1) or not (0)",
	})

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_notifications_total",
			Help: "Total number of job notifications raised by status",
		},
		[]string{"status"},
	)
)

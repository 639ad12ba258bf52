package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writtenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_written_total",
		Help: "Total number of audit entries written",
	})

	writeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_errors_total",
		Help: "Total number of audit entries that failed to write",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_dropped_total",
		Help: "Total number of audit entries dropped because the buffer was full",
	})
)

package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes the audit database pool statistics as
// Prometheus gauges.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "audit_db_acquired_conns",
			Help: "Number of currently acquired connections in the audit pool",
		}, func() float64 {
			return float64(pool.Stat().AcquiredConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "audit_db_max_conns",
			Help: "Maximum number of connections in the audit pool",
		}, func() float64 {
			return float64(pool.Stat().MaxConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "audit_db_idle_conns",
			Help: "Number of idle connections in the audit pool",
		}, func() float64 {
			return float64(pool.Stat().IdleConns())
		}),
	)
}

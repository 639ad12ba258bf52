package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edvin/maintconsole/internal/channel"
	"github.com/edvin/maintconsole/internal/jobstate"
)

// RegisterConsoleMetrics exposes the size of the job cache and the number
// of live channel subscriptions.
func RegisterConsoleMetrics(reg prometheus.Registerer, store *jobstate.Store, ch *channel.Channel) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "jobs_tracked",
			Help: "Number of jobs held in the client-side state cache",
		}, func() float64 {
			return float64(store.Len())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "job_channel_subscribers",
			Help: "Number of live subscriptions on the job status channel",
		}, func() float64 {
			return float64(ch.Subscribers())
		}),
	)
}

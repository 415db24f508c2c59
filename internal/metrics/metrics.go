package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RoutingAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payagg_routing_attempts_total",
			Help: "Provider calls made while walking a fallback chain",
		},
		[]string{"provider", "outcome"}, // succeeded|failed
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payagg_routing_decisions_total",
			Help: "Routing decisions by terminal outcome",
		},
		[]string{"outcome"}, // settled|exhausted|empty|error
	)

	APIKeyCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payagg_apikey_collisions_total",
			Help: "Generated API keys rejected because their hash already existed",
		},
	)

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payagg_auth_failures_total",
			Help: "Rejected API key authentications",
		},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payagg_payments_total",
			Help: "Payments lifecycle counter by stage",
		},
		[]string{"stage"}, // queued|succeeded|failed
	)
)

var once sync.Once

// MustRegister registers the collectors on r. Only the first call has effect,
// so serve and worker can share a process in tests.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			RoutingAttemptsTotal,
			RoutingDecisionsTotal,
			APIKeyCollisionsTotal,
			AuthFailuresTotal,
			PaymentsTotal,
		)
	})
}

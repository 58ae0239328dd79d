// gateway/internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EnforceTotal counts enforcement outcomes,
	// label = "allow" | "unauthenticated" | "forbidden" | "unavailable".
	EnforceTotal *prometheus.CounterVec

	// ProxiedRequests counts requests forwarded upstream, label = route prefix.
	ProxiedRequests *prometheus.CounterVec

	// UpstreamErrors counts proxy failures per route prefix.
	UpstreamErrors *prometheus.CounterVec

	// EnforceDuration measures the full enforcement path: verify,
	// denylist lookup, policy decision.
	EnforceDuration prometheus.Histogram
)

// Register инициализирует и регистрирует все метрики.
// Если r == nil, используется prometheus.DefaultRegisterer.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}

		EnforceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: "enforce", Name: "decisions_total",
			Help: "Enforcement decisions by outcome",
		}, []string{"outcome"})

		ProxiedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: "proxy", Name: "requests_total",
			Help: "Requests forwarded to upstreams",
		}, []string{"route"})

		UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway", Subsystem: "proxy", Name: "upstream_errors_total",
			Help: "Failed upstream round trips",
		}, []string{"route"})

		EnforceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway", Subsystem: "enforce", Name: "duration_seconds",
			Help:    "Enforcement path latency",
			Buckets: prometheus.DefBuckets,
		})

		for _, c := range []prometheus.Collector{
			EnforceTotal, ProxiedRequests, UpstreamErrors, EnforceDuration,
		} {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}

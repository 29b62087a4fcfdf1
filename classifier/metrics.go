package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultHit         = "hit"
	resultMiss        = "miss"
	resultRateLimited = "rate_limited"
	resultUnavailable = "unavailable"
	resultAbsent      = "absent"
	resultFallback    = "fallback"
)

// Metrics counts lookup outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	lookups     *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iphub",
			Name:      "lookups_total",
			Help:      "Classification lookups by outcome.",
		}, []string{"result"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iphub",
			Name:      "cache_errors_total",
			Help:      "Failed cache store operations.",
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.lookups, m.cacheErrors} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheError(operation string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(operation).Inc()
}

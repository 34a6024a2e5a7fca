package forward

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelHit           = "hit"
	labelStored        = "stored"
	labelPassthrough   = "passthrough"
	labelUpstreamError = "upstream_error"
)

type metrics struct {
	requests         *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "The total number of forwarded requests by outcome",
		}, []string{"outcome"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upstream_duration_seconds",
			Help:    "Duration of upstream GET requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *metrics) register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.upstreamDuration} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

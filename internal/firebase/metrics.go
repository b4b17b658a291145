package firebase

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks calls to the Firebase identity service.
type Metrics struct {
	requests      *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewMetrics creates Firebase client metrics registered against the given
// registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "firebase",
			Name:      "requests_total",
			Help:      "Requests to the Firebase identity REST API.",
		}, []string{"operation", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "firebase",
			Name:      "token_verifications_total",
			Help:      "ID token verification attempts.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.verifications)
	}
	return m
}

// RecordRequest records one identity API call.
func (m *Metrics) RecordRequest(operation, outcome string) {
	if m != nil {
		m.requests.WithLabelValues(operation, outcome).Inc()
	}
}

// RecordVerification records one ID token verification.
func (m *Metrics) RecordVerification(outcome string) {
	if m != nil {
		m.verifications.WithLabelValues(outcome).Inc()
	}
}

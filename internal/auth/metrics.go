package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks authentication outcomes.
type Metrics struct {
	authentications *prometheus.CounterVec
	logins          *prometheus.CounterVec
	logouts         prometheus.Counter
	denials         *prometheus.CounterVec
}

// Authentication outcome labels.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// NewMetrics creates authentication metrics registered against the given
// registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "authentications_total",
			Help:      "Bearer authentication attempts by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "OTP login flow completions by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Sessions removed by explicit logout.",
		}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "authorization_denials_total",
			Help:      "Authorization denials by permission.",
		}, []string{"permission"}),
	}

	if reg != nil {
		reg.MustRegister(m.authentications, m.logins, m.logouts, m.denials)
	}
	return m
}

// RecordAuthentication records one authentication attempt.
func (m *Metrics) RecordAuthentication(outcome string) {
	if m != nil {
		m.authentications.WithLabelValues(outcome).Inc()
	}
}

// RecordLogin records one login flow completion.
func (m *Metrics) RecordLogin(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

// RecordLogout records one explicit logout.
func (m *Metrics) RecordLogout() {
	if m != nil {
		m.logouts.Inc()
	}
}

// RecordDenial records one authorization denial.
func (m *Metrics) RecordDenial(permission Permission) {
	if m != nil {
		m.denials.WithLabelValues(string(permission)).Inc()
	}
}

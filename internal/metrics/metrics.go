// Package metrics collects and exposes Prometheus metrics for the
// identity flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts the outcomes the HTTP layer observes.
type Collector struct {
	loginSuccess  prometheus.Counter
	loginFailure  prometheus.Counter
	signups       prometheus.Counter
	codesIssued   prometheus.Counter
	codesConsumed prometheus.Counter
	codesExpired  prometheus.Counter
}

// NewCollector registers the counters with the registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formic_login_success_total",
			Help: "Successful logins.",
		}),
		loginFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formic_login_failure_total",
			Help: "Rejected logins (bad credentials or unknown account).",
		}),
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formic_signups_total",
			Help: "Completed signups.",
		}),
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formic_verification_codes_issued_total",
			Help: "Verification codes issued (signup, forgot password, resend).",
		}),
		codesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formic_verification_codes_consumed_total",
			Help: "Verification codes redeemed successfully.",
		}),
		codesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formic_verification_codes_expired_total",
			Help: "Verification codes rejected as expired.",
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFailure,
		c.signups,
		c.codesIssued,
		c.codesConsumed,
		c.codesExpired,
	)

	return c
}

func (c *Collector) RecordLogin(success bool) {
	if success {
		c.loginSuccess.Inc()
		return
	}
	c.loginFailure.Inc()
}

func (c *Collector) RecordSignup()       { c.signups.Inc() }
func (c *Collector) RecordCodeIssued()   { c.codesIssued.Inc() }
func (c *Collector) RecordCodeConsumed() { c.codesConsumed.Inc() }
func (c *Collector) RecordCodeExpired()  { c.codesExpired.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

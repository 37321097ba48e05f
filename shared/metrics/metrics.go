package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionResolutions counts session verifications by outcome
	SessionResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_session_resolutions_total",
			Help: "Total number of session resolutions by status",
		},
		[]string{"status"}, // absent, verified, error
	)

	// TenantResolutions counts tenant resolutions by the source that won
	TenantResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_tenant_resolutions_total",
			Help: "Total number of tenant resolutions by source",
		},
		[]string{"source"}, // host, cookie, primary, none, not_found
	)

	// AccessDecisions counts access decisions by outcome and reason
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Total number of access decisions",
		},
		[]string{"outcome", "reason"},
	)

	// AccessErrors counts requests where the pipeline could not decide
	AccessErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "access_errors_total",
			Help: "Total number of access checks aborted by infrastructure failures",
		},
	)

	// ElevationCodesIssued counts issued codes, split by whether a live one was redelivered
	ElevationCodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_elevation_codes_issued_total",
			Help: "Total number of elevation code issuances",
		},
		[]string{"reused"},
	)

	// ElevationVerifications counts code verifications by result
	ElevationVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_elevation_verifications_total",
			Help: "Total number of elevation code verifications",
		},
		[]string{"result"}, // ok, invalid_or_expired
	)

	// ElevationCodesPurged counts codes removed by the sweeper
	ElevationCodesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "access_elevation_codes_purged_total",
			Help: "Total number of dead elevation codes purged",
		},
	)

	// AuditEvents counts audit events by stage and type
	AuditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_audit_events_total",
			Help: "Total number of audit events",
		},
		[]string{"stage", "type"}, // stage: published, dropped, consumed
	)
)

func init() {
	prometheus.MustRegister(SessionResolutions)
	prometheus.MustRegister(TenantResolutions)
	prometheus.MustRegister(AccessDecisions)
	prometheus.MustRegister(AccessErrors)
	prometheus.MustRegister(ElevationCodesIssued)
	prometheus.MustRegister(ElevationVerifications)
	prometheus.MustRegister(ElevationCodesPurged)
	prometheus.MustRegister(AuditEvents)
}

// Handler returns the HTTP handler serving the registered metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

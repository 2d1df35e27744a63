// Package metrics provides Prometheus metrics for the authorization pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the authorization pipeline.
type Metrics struct {
	enabled bool

	// Authentication metrics
	authRequestsTotal prometheus.Counter
	authFailuresTotal *prometheus.CounterVec

	// Permission check metrics
	permissionChecksTotal   *prometheus.CounterVec
	permissionCheckDuration prometheus.Histogram

	// Cross-tenant guard metrics
	crossTenantBlocksTotal *prometheus.CounterVec

	// Audit metrics
	auditWriteFailuresTotal prometheus.Counter
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	m.authRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantauth_auth_requests_total",
		Help: "Total authentication requests",
	})

	m.authFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantauth_auth_failures_total",
		Help: "Total authentication failures",
	}, []string{"reason"})

	m.permissionChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantauth_permission_checks_total",
		Help: "Total permission checks",
	}, []string{"result"})

	m.permissionCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenantauth_permission_check_duration_seconds",
		Help:    "Permission check duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.crossTenantBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantauth_cross_tenant_blocks_total",
		Help: "Total requests blocked by the cross-tenant guard",
	}, []string{"source"})

	m.auditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantauth_audit_write_failures_total",
		Help: "Total audit sink write failures (swallowed, never fatal)",
	})

	return m
}

// RecordAuthSuccess records a successful authentication.
func (m *Metrics) RecordAuthSuccess() {
	if !m.enabled {
		return
	}
	m.authRequestsTotal.Inc()
}

// RecordAuthFailure records a failed authentication.
func (m *Metrics) RecordAuthFailure(reason string) {
	if !m.enabled {
		return
	}
	m.authFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordPermissionCheck records a permission check result.
func (m *Metrics) RecordPermissionCheck(result string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.permissionChecksTotal.WithLabelValues(result).Inc()
	m.permissionCheckDuration.Observe(durationSeconds)
}

// RecordCrossTenantBlock records a request blocked by the guard.
func (m *Metrics) RecordCrossTenantBlock(source string) {
	if !m.enabled {
		return
	}
	m.crossTenantBlocksTotal.WithLabelValues(source).Inc()
}

// RecordAuditWriteFailure records a swallowed audit sink failure.
func (m *Metrics) RecordAuditWriteFailure() {
	if !m.enabled {
		return
	}
	m.auditWriteFailuresTotal.Inc()
}

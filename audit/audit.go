// Package audit provides the audit recorder and query surface for the
// authorization core.
//
// Writes are synchronous relative to the decision: a denial is recorded
// before the terminal response is returned. A sink failure is isolated, though:
// it is logged for operational visibility and swallowed, so audit
// infrastructure issues never degrade availability of the protected resource.
package audit

import (
	"context"
	"log/slog"
	"time"

	tenantauth "github.com/harborlist/tenantauth-go"
)

// Store is a sink that can also be queried. The gormsink and fake packages
// implement it; write-only sinks (redisink) implement only tenantauth.AuditSink.
type Store interface {
	tenantauth.AuditSink

	// Query returns events matching the filter, newest first, honoring the
	// filter's limit and offset. Callers must clamp pagination before calling.
	Query(ctx context.Context, f Filter) ([]tenantauth.AuditEvent, error)
}

// Recorder emits audit events to a sink, best-effort.
type Recorder struct {
	sink      tenantauth.AuditSink
	logger    *slog.Logger
	onFailure func()
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used to report swallowed sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithFailureHook registers a callback invoked once per failed sink write,
// typically wired to a metrics counter.
func WithFailureHook(fn func()) Option {
	return func(r *Recorder) { r.onFailure = fn }
}

// NewRecorder creates a Recorder writing to the given sink. A nil sink yields
// a recorder that drops everything, which keeps wiring optional in tests.
func NewRecorder(sink tenantauth.AuditSink, opts ...Option) *Recorder {
	r := &Recorder{sink: sink}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Log writes one event to the sink. Missing timestamps are stamped and a
// missing trace id is taken from the context. A write failure is logged and
// swallowed; Log never returns an error by design.
func (r *Recorder) Log(ctx context.Context, event tenantauth.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.TraceID == "" {
		event.TraceID = tenantauth.TraceIDFromContext(ctx)
	}
	if event.Severity == "" {
		event.Severity = tenantauth.SeverityInfo
	}

	if r.sink == nil {
		return
	}
	if err := r.sink.Write(ctx, event); err != nil {
		r.logger.Warn("audit write failed",
			"action", string(event.Action),
			"tenant_id", event.TenantID,
			"trace_id", event.TraceID,
			"error", err)
		if r.onFailure != nil {
			r.onFailure()
		}
	}
}

// LogSecurityEvent records a security observation such as a malformed tenant
// id or a membership violation. Always a failure, severity warning.
func (r *Recorder) LogSecurityEvent(ctx context.Context, action tenantauth.AuditAction, subjectID, tenantID string, details map[string]any) {
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID: subjectID,
		TenantID:  tenantID,
		Action:    action,
		Success:   false,
		Severity:  tenantauth.SeverityWarning,
		Details:   details,
	})
}

// LogPermissionEvent records the outcome of an audited permission check:
// "access" on grant, "denied" on refusal.
func (r *Recorder) LogPermissionEvent(ctx context.Context, tc *tenantauth.TenantContext, decision *tenantauth.AccessDecision, details map[string]any) {
	action := tenantauth.AuditAccess
	severity := tenantauth.SeverityInfo
	if !decision.Granted {
		action = tenantauth.AuditDenied
		severity = tenantauth.SeverityWarning
	}
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID:    tc.SubjectID,
		TenantID:     tc.TenantID,
		Action:       action,
		ResourceType: decision.ResourceType,
		ResourceID:   decision.ResourceID,
		Success:      decision.Granted,
		Severity:     severity,
		Details:      details,
		TraceID:      tc.TraceID,
	})
}

// LogPermissionDenied records a denial from a plain (non-audited) check.
// Denials always log; successes of plain checks never do.
func (r *Recorder) LogPermissionDenied(ctx context.Context, tc *tenantauth.TenantContext, decision *tenantauth.AccessDecision, details map[string]any) {
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID:    tc.SubjectID,
		TenantID:     tc.TenantID,
		Action:       tenantauth.AuditPermissionDenied,
		ResourceType: decision.ResourceType,
		ResourceID:   decision.ResourceID,
		Success:      false,
		Severity:     tenantauth.SeverityWarning,
		Details:      details,
		TraceID:      tc.TraceID,
	})
}

// LogCrossTenantAccessAttempt records a detected reference to a tenant other
// than the authenticated one.
func (r *Recorder) LogCrossTenantAccessAttempt(ctx context.Context, tc *tenantauth.TenantContext, details map[string]any) {
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID: tc.SubjectID,
		TenantID:  tc.TenantID,
		Action:    tenantauth.AuditCrossTenantAttempt,
		Success:   false,
		Severity:  tenantauth.SeverityWarning,
		Details:   details,
		TraceID:   tc.TraceID,
	})
}

// LogCrossSiteAccessAttempt records a detected reference to a site outside the
// resolved site scope.
func (r *Recorder) LogCrossSiteAccessAttempt(ctx context.Context, tc *tenantauth.TenantContext, details map[string]any) {
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID: tc.SubjectID,
		TenantID:  tc.TenantID,
		Action:    tenantauth.AuditCrossSiteAttempt,
		Success:   false,
		Severity:  tenantauth.SeverityWarning,
		Details:   details,
		TraceID:   tc.TraceID,
	})
}

// LogRoleEvent records a role lifecycle change (created/updated/deleted).
func (r *Recorder) LogRoleEvent(ctx context.Context, action tenantauth.AuditAction, subjectID, tenantID, roleID string) {
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID:    subjectID,
		TenantID:     tenantID,
		Action:       action,
		ResourceType: tenantauth.ResourceRole,
		ResourceID:   roleID,
		Success:      true,
		Severity:     tenantauth.SeverityInfo,
	})
}

// LogTenantMembershipEvent records a subject being added to or removed from a
// tenant.
func (r *Recorder) LogTenantMembershipEvent(ctx context.Context, action tenantauth.AuditAction, actorID, tenantID, memberID string) {
	r.Log(ctx, tenantauth.AuditEvent{
		SubjectID:    actorID,
		TenantID:     tenantID,
		Action:       action,
		ResourceType: tenantauth.ResourceUser,
		ResourceID:   memberID,
		Success:      true,
		Severity:     tenantauth.SeverityInfo,
	})
}

// MultiSink fans an event out to several sinks, e.g. a persistent store plus a
// stream. Each sink gets the write regardless of the others' outcome; the
// first error is returned so the Recorder can count the failure, but partial
// delivery is acceptable by design.
type MultiSink struct {
	sinks []tenantauth.AuditSink
}

var _ tenantauth.AuditSink = (*MultiSink)(nil)

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...tenantauth.AuditSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write delivers the event to every sink.
func (m *MultiSink) Write(ctx context.Context, event tenantauth.AuditEvent) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

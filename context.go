package tenantauth

import "context"

type ctxKey string

const (
	ctxKeySubjectID ctxKey = "tenantauth_subject_id"
	ctxKeyTenantID  ctxKey = "tenantauth_tenant_id"
	ctxKeySiteID    ctxKey = "tenantauth_site_id"
	ctxKeyTraceID   ctxKey = "tenantauth_trace_id"
	ctxKeyClaims    ctxKey = "tenantauth_claims"
)

// WithSubjectID stores the authenticated subject ID in the context.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, ctxKeySubjectID, subjectID)
}

// SubjectIDFromContext extracts the authenticated subject ID from the context.
func SubjectIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySubjectID).(string)
	return v
}

// WithTenantID stores the resolved tenant ID in the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}

// TenantIDFromContext extracts the resolved tenant ID from the context.
func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTenantID).(string)
	return v
}

// WithSiteID stores the resolved site ID in the context.
func WithSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, ctxKeySiteID, siteID)
}

// SiteIDFromContext extracts the resolved site ID from the context.
func SiteIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySiteID).(string)
	return v
}

// WithTraceID stores the per-request trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// TraceIDFromContext extracts the per-request trace ID from the context.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTraceID).(string)
	return v
}

// WithClaims stores the full token claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// ClaimsFromContext extracts the full token claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	v, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return v
}

// WithTenantContext stores all identifiers of the tenant context at once.
func WithTenantContext(ctx context.Context, tc *TenantContext) context.Context {
	ctx = WithSubjectID(ctx, tc.SubjectID)
	ctx = WithTenantID(ctx, tc.TenantID)
	ctx = WithTraceID(ctx, tc.TraceID)
	if tc.SiteID != "" {
		ctx = WithSiteID(ctx, tc.SiteID)
	}
	return ctx
}

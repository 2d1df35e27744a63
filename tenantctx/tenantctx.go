// Package tenantctx constructs the per-request tenant context: it combines
// the tenant identifier from the request with the verified subject, confirms
// tenant membership, and stamps a unique trace id that correlates every audit
// event emitted for the rest of the request.
package tenantctx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
)

// Resolver builds TenantContext values from incoming requests.
type Resolver struct {
	memberships  tenantauth.MembershipStore
	recorder     *audit.Recorder
	logger       *slog.Logger
	tenantHeader string
	tenantCookie string
	siteHeader   string
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithTenantHeader overrides the header consulted for the tenant id.
func WithTenantHeader(name string) Option {
	return func(r *Resolver) { r.tenantHeader = name }
}

// WithTenantCookie overrides the cookie consulted when the header is absent.
func WithTenantCookie(name string) Option {
	return func(r *Resolver) { r.tenantCookie = name }
}

// WithSiteHeader overrides the header consulted for the site id.
func WithSiteHeader(name string) Option {
	return func(r *Resolver) { r.siteHeader = name }
}

// NewResolver creates a Resolver backed by the given membership store. The
// recorder receives a security event for every rejected tenant id or
// membership violation.
func NewResolver(memberships tenantauth.MembershipStore, recorder *audit.Recorder, opts ...Option) *Resolver {
	r := &Resolver{
		memberships:  memberships,
		recorder:     recorder,
		tenantHeader: tenantauth.DefaultTenantHeader,
		tenantCookie: tenantauth.DefaultTenantCookie,
		siteHeader:   tenantauth.DefaultSiteHeader,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// TenantIDFromRequest extracts the raw tenant identifier, header first,
// cookie second. Returns the empty string when neither is present.
func (r *Resolver) TenantIDFromRequest(req *http.Request) string {
	if v := req.Header.Get(r.tenantHeader); v != "" {
		return v
	}
	if c, err := req.Cookie(r.tenantCookie); err == nil {
		return c.Value
	}
	return ""
}

// Resolve validates the tenant identifier, confirms the subject's membership,
// and allocates a fresh TenantContext with its trace id.
//
// Failure modes:
//   - missing tenant id → ErrInvalidTenantContext
//   - malformed (non-UUID) tenant id → ErrInvalidTenantContext, audited as a
//     potential injection probe (unauthorized-tenant-access)
//   - non-membership → ErrInvalidTenantContext, audited
//   - membership store failure → ErrValidationFailed
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, subjectID string) (*tenantauth.TenantContext, error) {
	tenantID := r.TenantIDFromRequest(req)
	if tenantID == "" {
		return nil, fmt.Errorf("tenantauth/tenantctx: %w: no tenant id in request", tenantauth.ErrInvalidTenantContext)
	}

	if err := uuid.Validate(tenantID); err != nil {
		r.recorder.LogSecurityEvent(ctx, tenantauth.AuditUnauthorizedTenantAccess, subjectID, "", map[string]any{
			"reason":           "malformed tenant id",
			"providedTenantId": tenantID,
		})
		return nil, fmt.Errorf("tenantauth/tenantctx: %w: malformed tenant id", tenantauth.ErrInvalidTenantContext)
	}

	member, err := r.memberships.IsTenantMember(ctx, subjectID, tenantID)
	if err != nil {
		r.logger.Error("membership lookup failed", "subject_id", subjectID, "tenant_id", tenantID, "error", err)
		return nil, fmt.Errorf("tenantauth/tenantctx: %w: membership lookup: %v", tenantauth.ErrValidationFailed, err)
	}
	if !member {
		r.recorder.LogSecurityEvent(ctx, tenantauth.AuditUnauthorizedTenantAccess, subjectID, tenantID, map[string]any{
			"reason": "subject is not a member of tenant",
		})
		return nil, fmt.Errorf("tenantauth/tenantctx: %w: not a tenant member", tenantauth.ErrInvalidTenantContext)
	}

	return &tenantauth.TenantContext{
		TenantID:  tenantID,
		SubjectID: subjectID,
		TraceID:   uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ResolveSite returns the site id for site-scoped routes: the site header if
// present, otherwise the per-tenant cookie "{tenantId}_currentSiteId". The
// header always takes precedence when both exist. An empty return means the
// route is not site-scoped for this request.
func (r *Resolver) ResolveSite(req *http.Request, tenantID string) string {
	if v := req.Header.Get(r.siteHeader); v != "" {
		return v
	}
	if c, err := req.Cookie(tenantauth.SiteCookieName(tenantID)); err == nil {
		return c.Value
	}
	return ""
}

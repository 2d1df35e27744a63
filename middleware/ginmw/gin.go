// Package ginmw composes the authorization pipeline as Gin middleware:
// token verification, tenant context resolution, cross-tenant guarding, and
// permission checks, short-circuiting with a terminal JSON response at the
// first failure. The business handler runs only after every stage passes.
package ginmw

import (
	"time"

	"github.com/gin-gonic/gin"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
	"github.com/harborlist/tenantauth-go/guard"
	"github.com/harborlist/tenantauth-go/metrics"
	"github.com/harborlist/tenantauth-go/permission"
	"github.com/harborlist/tenantauth-go/tenantctx"
	"github.com/harborlist/tenantauth-go/token"
)

// Context keys for storing pipeline data in gin.Context.
const (
	KeySubjectID     = "tenantauth_subject_id"
	KeyTenantContext = "tenantauth_tenant_context"
	KeyClaims        = "tenantauth_claims"
)

// Pipeline wires the pipeline stages together for a single gin router.
type Pipeline struct {
	client    *tenantauth.Client
	recorder  *audit.Recorder
	resolver  *tenantctx.Resolver
	guard     *guard.Guard
	evaluator *permission.Evaluator
	metrics   *metrics.Metrics

	excludedPaths map[string]bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithExcludedPaths sets paths that skip authentication (e.g. health checks).
func WithExcludedPaths(paths ...string) PipelineOption {
	return func(p *Pipeline) {
		for _, path := range paths {
			p.excludedPaths[path] = true
		}
	}
}

// NewPipeline builds the full middleware pipeline from a client's injected
// capabilities.
func NewPipeline(client *tenantauth.Client, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		client:        client,
		excludedPaths: make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New(false)
	}

	cfg := client.Config()
	p.recorder = audit.NewRecorder(client.Sink(),
		audit.WithLogger(client.Logger()),
		audit.WithFailureHook(p.metrics.RecordAuditWriteFailure),
	)
	p.resolver = tenantctx.NewResolver(client.Memberships(), p.recorder,
		tenantctx.WithLogger(client.Logger()),
		tenantctx.WithTenantHeader(cfg.TenantHeader),
		tenantctx.WithTenantCookie(cfg.TenantCookie),
		tenantctx.WithSiteHeader(cfg.SiteHeader),
	)
	p.guard = guard.NewGuard(p.recorder, client.Roles(),
		guard.WithLogger(client.Logger()),
		guard.WithMaxDepth(cfg.MaxBodyScanDepth),
	)
	p.evaluator = permission.NewEvaluator(client.Roles())
	return p
}

// Recorder exposes the pipeline's audit recorder so handlers can log domain
// events (settings-changed, role-created, ...) with the same trace ids.
func (p *Pipeline) Recorder() *audit.Recorder { return p.recorder }

// Evaluator exposes the permission evaluator for direct checks in handlers.
func (p *Pipeline) Evaluator() *permission.Evaluator { return p.evaluator }

// Auth returns middleware that verifies the bearer token and stores the
// verified subject. Responds 401 if the credential is missing or invalid.
func (p *Pipeline) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		raw := token.ExtractBearer(c.GetHeader("Authorization"))
		if raw == "" {
			p.metrics.RecordAuthFailure("missing_token")
			abort(c, tenantauth.ErrUnauthenticated, "missing authorization token", nil)
			return
		}

		verifier := p.client.Verifier()
		if verifier == nil {
			abort(c, tenantauth.ErrValidationFailed, "", nil)
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			p.metrics.RecordAuthFailure("invalid_token")
			abort(c, tenantauth.ErrInvalidToken, "invalid token", nil)
			return
		}

		p.metrics.RecordAuthSuccess()
		c.Set(KeyClaims, claims)
		c.Set(KeySubjectID, claims.Subject)
		c.Request = c.Request.WithContext(
			tenantauth.WithClaims(
				tenantauth.WithSubjectID(c.Request.Context(), claims.Subject),
				claims))
		c.Next()
	}
}

// Tenant returns middleware that resolves and validates the tenant context.
// Requires Auth to have run. The membership check always precedes any
// permission check: a non-member never reaches a business handler regardless
// of grants that might otherwise apply.
func (p *Pipeline) Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		subjectID := GetSubjectID(c)
		if subjectID == "" {
			abort(c, tenantauth.ErrUnauthenticated, "missing subject context", nil)
			return
		}

		tc, err := p.resolver.Resolve(c.Request.Context(), c.Request, subjectID)
		if err != nil {
			abort(c, err, "invalid or missing tenant context", nil)
			return
		}
		tc.SiteID = p.resolver.ResolveSite(c.Request, tc.TenantID)

		c.Set(KeyTenantContext, tc)
		c.Request = c.Request.WithContext(
			tenantauth.WithTenantContext(c.Request.Context(), tc))
		c.Next()
	}
}

// CrossTenant returns middleware that blocks requests referencing a tenant
// other than the authenticated one. Requires Tenant to have run.
func (p *Pipeline) CrossTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc := GetTenantContext(c)
		if tc == nil {
			c.Next()
			return
		}

		vs, err := p.guard.Inspect(c.Request.Context(), tc, c.Request)
		if err != nil {
			for _, v := range vs {
				p.metrics.RecordCrossTenantBlock(v.Source)
			}
			abort(c, err, "request references another tenant", nil)
			return
		}
		c.Next()
	}
}

// Require returns middleware enforcing a single tenant-wide permission.
func (p *Pipeline) Require(resource tenantauth.ResourceType, perm tenantauth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := p.tenantContextOrAbort(c)
		if !ok {
			return
		}
		start := time.Now()
		decision, err := p.evaluator.Check(c.Request.Context(), tc, resource, perm, "")
		p.finish(c, tc, decision, err, start)
	}
}

// RequireAny returns middleware granting if any listed permission is held.
// An empty list always denies, without querying the role store.
func (p *Pipeline) RequireAny(resource tenantauth.ResourceType, perms ...tenantauth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := p.tenantContextOrAbort(c)
		if !ok {
			return
		}
		start := time.Now()
		decision, err := p.evaluator.CheckAny(c.Request.Context(), tc, resource, perms)
		p.finish(c, tc, decision, err, start)
	}
}

// RequireAll returns middleware granting only if every listed permission is
// held. An empty list always grants, without querying the role store.
func (p *Pipeline) RequireAll(resource tenantauth.ResourceType, perms ...tenantauth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := p.tenantContextOrAbort(c)
		if !ok {
			return
		}
		start := time.Now()
		decision, err := p.evaluator.CheckAll(c.Request.Context(), tc, resource, perms)
		p.finish(c, tc, decision, err, start)
	}
}

// RequireResource returns middleware enforcing a permission scoped to a
// resource id extracted from the request (query parameter, body field, or
// trailing path segment, in that order). With required set, a request from
// which no id can be extracted gets a 400, not a 403.
func (p *Pipeline) RequireResource(resource tenantauth.ResourceType, perm tenantauth.Permission, param string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := p.tenantContextOrAbort(c)
		if !ok {
			return
		}
		start := time.Now()
		decision, err := p.evaluator.CheckResource(c.Request.Context(), tc, c.Request, resource, perm, param, required)
		if err != nil {
			abort(c, err, "resource id is required", &tenantauth.ErrorDetails{
				ResourceType: resource,
				Permission:   perm,
			})
			return
		}
		p.finish(c, tc, decision, nil, start)
	}
}

// Audited returns middleware like Require that additionally logs an "access"
// event on grant. Plain Require logs only denials; this opt-in variant is for
// routes whose successful reads must appear in the audit trail.
func (p *Pipeline) Audited(resource tenantauth.ResourceType, perm tenantauth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := p.tenantContextOrAbort(c)
		if !ok {
			return
		}
		start := time.Now()
		decision, err := p.evaluator.Check(c.Request.Context(), tc, resource, perm, "")
		if err != nil {
			p.metrics.RecordPermissionCheck("error", time.Since(start).Seconds())
			abort(c, err, "", nil)
			return
		}

		p.recorder.LogPermissionEvent(c.Request.Context(), tc, decision, map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})

		if !decision.Granted {
			p.metrics.RecordPermissionCheck("denied", time.Since(start).Seconds())
			abort(c, tenantauth.ErrPermissionDenied, decision.Reason, detailsFor(decision))
			return
		}
		p.metrics.RecordPermissionCheck("granted", time.Since(start).Seconds())
		c.Next()
	}
}

// finish converts an evaluation outcome into either a pass-through or a
// terminal response, logging exactly one audit event per denial.
func (p *Pipeline) finish(c *gin.Context, tc *tenantauth.TenantContext, decision *tenantauth.AccessDecision, err error, start time.Time) {
	elapsed := time.Since(start).Seconds()
	if err != nil {
		p.metrics.RecordPermissionCheck("error", elapsed)
		abort(c, err, "", nil)
		return
	}
	if !decision.Granted {
		p.metrics.RecordPermissionCheck("denied", elapsed)
		p.recorder.LogPermissionDenied(c.Request.Context(), tc, decision, map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		abort(c, tenantauth.ErrPermissionDenied, decision.Reason, detailsFor(decision))
		return
	}
	p.metrics.RecordPermissionCheck("granted", elapsed)
	c.Next()
}

func (p *Pipeline) tenantContextOrAbort(c *gin.Context) (*tenantauth.TenantContext, bool) {
	tc := GetTenantContext(c)
	if tc == nil {
		abort(c, tenantauth.ErrInvalidTenantContext, "missing tenant context", nil)
		return nil, false
	}
	return tc, true
}

func detailsFor(d *tenantauth.AccessDecision) *tenantauth.ErrorDetails {
	det := &tenantauth.ErrorDetails{
		ResourceType:      d.ResourceType,
		ResourceID:        d.ResourceID,
		MissingPermission: d.MissingPermission,
	}
	if d.Permissions != nil {
		det.Permissions = d.Permissions
	} else {
		det.Permission = d.Permission
	}
	return det
}

// abort writes the terminal response for a pipeline error and stops the chain.
func abort(c *gin.Context, err error, message string, details *tenantauth.ErrorDetails) {
	c.AbortWithStatusJSON(tenantauth.StatusFor(err), tenantauth.NewAPIError(err, message, details))
}

// --- Context helpers ---

// GetSubjectID returns the authenticated subject ID from the Gin context.
func GetSubjectID(c *gin.Context) string {
	v, _ := c.Get(KeySubjectID)
	s, _ := v.(string)
	return s
}

// GetTenantContext returns the resolved tenant context, or nil.
func GetTenantContext(c *gin.Context) *tenantauth.TenantContext {
	v, _ := c.Get(KeyTenantContext)
	tc, _ := v.(*tenantauth.TenantContext)
	return tc
}

// GetClaims returns the full verified claims from the Gin context.
func GetClaims(c *gin.Context) *tenantauth.Claims {
	v, _ := c.Get(KeyClaims)
	cl, _ := v.(*tenantauth.Claims)
	return cl
}

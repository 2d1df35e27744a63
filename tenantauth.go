// Package tenantauth provides the tenant-aware authorization core for the
// Harborlist platform: bearer token verification, tenant context resolution,
// fine-grained permission evaluation, cross-tenant leak detection, and an
// immutable audit trail of every access decision.
//
// The package defines the consumed capability interfaces (TokenVerifier,
// RoleStore, MembershipStore, AuditSink); concrete implementations are
// injected via Option functions, keeping the core independent of any specific
// backing store. The request pipeline itself lives in middleware/ginmw.
//
// Example:
//
//	verifier, _ := token.NewVerifier([]byte(secret))
//	client, err := tenantauth.NewClient(
//	    tenantauth.Config{},
//	    tenantauth.WithTokenVerifier(verifier),
//	    tenantauth.WithRoleStore(myRoles),
//	    tenantauth.WithMembershipStore(myMemberships),
//	    tenantauth.WithAuditSink(mySink),
//	)
package tenantauth

import (
	"fmt"
	"io"
	"log/slog"
)

// Default header and cookie names for tenant and site resolution.
const (
	DefaultTenantHeader = "X-Tenant-ID"
	DefaultTenantCookie = "currentTenantId"
	DefaultSiteHeader   = "X-Site-ID"
)

// SiteCookieName returns the per-tenant cookie key that stores the currently
// selected site for a tenant.
func SiteCookieName(tenantID string) string {
	return tenantID + "_currentSiteId"
}

// Config holds behavior configuration for the authorization core.
type Config struct {
	// TenantHeader is the request header carrying the tenant id.
	// Default: "X-Tenant-ID". A cookie fallback (TenantCookie) applies when
	// the header is absent; the header always wins when both are present.
	TenantHeader string

	// TenantCookie is the cookie consulted when TenantHeader is absent.
	// Default: "currentTenantId".
	TenantCookie string

	// SiteHeader is the request header carrying the site id for site-scoped
	// routes. Default: "X-Site-ID". Falls back to the per-tenant cookie
	// "{tenantId}_currentSiteId".
	SiteHeader string

	// MaxBodyScanDepth bounds the recursive cross-tenant body walk.
	// Default: 20.
	MaxBodyScanDepth int
}

// DefaultMaxBodyScanDepth bounds recursion when scanning request bodies for
// cross-tenant references.
const DefaultMaxBodyScanDepth = 20

// Client is the wiring point for the authorization core. Capability
// implementations are injected via Option functions.
type Client struct {
	config      Config
	logger      *slog.Logger
	verifier    TokenVerifier
	roles       RoleStore
	memberships MembershipStore
	sink        AuditSink
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenVerifier sets the token verification implementation.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(c *Client) { c.verifier = v }
}

// WithRoleStore sets the role/permission lookup implementation.
func WithRoleStore(r RoleStore) Option {
	return func(c *Client) { c.roles = r }
}

// WithMembershipStore sets the tenant membership lookup implementation.
func WithMembershipStore(m MembershipStore) Option {
	return func(c *Client) { c.memberships = m }
}

// WithAuditSink sets the audit event sink implementation.
func WithAuditSink(s AuditSink) Option {
	return func(c *Client) { c.sink = s }
}

// NewClient creates a new authorization client with the given configuration
// and options. A RoleStore and MembershipStore are required; the pipeline
// cannot make decisions without them.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = DefaultTenantHeader
	}
	if cfg.TenantCookie == "" {
		cfg.TenantCookie = DefaultTenantCookie
	}
	if cfg.SiteHeader == "" {
		cfg.SiteHeader = DefaultSiteHeader
	}
	if cfg.MaxBodyScanDepth <= 0 {
		cfg.MaxBodyScanDepth = DefaultMaxBodyScanDepth
	}

	c := &Client{config: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.roles == nil {
		return nil, fmt.Errorf("tenantauth: a RoleStore is required")
	}
	if c.memberships == nil {
		return nil, fmt.Errorf("tenantauth: a MembershipStore is required")
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client's structured logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Verifier returns the token verifier, or nil if not configured.
func (c *Client) Verifier() TokenVerifier { return c.verifier }

// Roles returns the role store.
func (c *Client) Roles() RoleStore { return c.roles }

// Memberships returns the membership store.
func (c *Client) Memberships() MembershipStore { return c.memberships }

// Sink returns the audit sink, or nil if not configured.
func (c *Client) Sink() AuditSink { return c.sink }

// Close releases all resources held by the client.
// Any injected capability that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []interface{}{c.verifier, c.roles, c.memberships, c.sink}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

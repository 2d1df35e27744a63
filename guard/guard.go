// Package guard detects and blocks cross-tenant references in incoming
// requests: tenant ids smuggled through query parameters, UUID-shaped path
// segments belonging to other tenants, and tenant references buried in
// mutation payloads.
//
// Each check is independent; the first that finds a violation records exactly
// one audit event and short-circuits the request with a 403-equivalent.
package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
)

// systemTenantSentinel is the one tenant id value payloads may carry freely:
// it marks platform-owned rows, not another customer's data.
const systemTenantSentinel = "system"

// Violation is one detected cross-tenant reference.
type Violation struct {
	// Source is which check found it: "query", "path", or "body".
	Source string `json:"source"`
	// Path locates the offending value (parameter name, path segment, or
	// dotted body path).
	Path string `json:"path"`
	// Value is the foreign tenant id that was referenced.
	Value string `json:"value"`
}

// Guard inspects requests for cross-tenant references.
type Guard struct {
	recorder *audit.Recorder
	roles    tenantauth.RoleStore
	logger   *slog.Logger
	maxDepth int
}

// Option configures the Guard.
type Option func(*Guard)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMaxDepth bounds the recursive body walk. Default:
// tenantauth.DefaultMaxBodyScanDepth.
func WithMaxDepth(d int) Option {
	return func(g *Guard) { g.maxDepth = d }
}

// NewGuard creates a Guard. The role store is consulted only to exempt
// global-admin subjects from the path-segment check; pass nil to disable the
// exemption entirely.
func NewGuard(recorder *audit.Recorder, roles tenantauth.RoleStore, opts ...Option) *Guard {
	g := &Guard{
		recorder: recorder,
		roles:    roles,
		maxDepth: tenantauth.DefaultMaxBodyScanDepth,
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Inspect runs all three checks against the request under the given tenant
// context. A detected violation is audited as a cross-tenant-access-attempt
// (tagged with the context's trace id) and returned as ErrCrossTenantBlocked,
// along with the violations the triggering check collected.
func (g *Guard) Inspect(ctx context.Context, tc *tenantauth.TenantContext, req *http.Request) ([]Violation, error) {
	if v := g.checkQuery(tc, req); v != nil {
		vs := []Violation{*v}
		g.record(ctx, tc, req, vs)
		return vs, fmt.Errorf("tenantauth/guard: %w: query parameter references tenant %s", tenantauth.ErrCrossTenantBlocked, v.Value)
	}

	if v := g.checkPath(tc, req); v != nil {
		if !g.isGlobalAdmin(ctx, tc.SubjectID) {
			vs := []Violation{*v}
			g.record(ctx, tc, req, vs)
			return vs, fmt.Errorf("tenantauth/guard: %w: path references tenant %s", tenantauth.ErrCrossTenantBlocked, v.Value)
		}
	}

	if vs := g.checkBody(tc, req); len(vs) > 0 {
		g.record(ctx, tc, req, vs)
		return vs, fmt.Errorf("tenantauth/guard: %w: body references %d foreign tenant value(s)", tenantauth.ErrCrossTenantBlocked, len(vs))
	}

	return nil, nil
}

// checkQuery flags a tenantId query parameter naming a different tenant.
func (g *Guard) checkQuery(tc *tenantauth.TenantContext, req *http.Request) *Violation {
	v := req.URL.Query().Get("tenantId")
	if v != "" && v != tc.TenantID {
		return &Violation{Source: "query", Path: "tenantId", Value: v}
	}
	return nil
}

// checkPath flags any UUID-shaped path segment that is not the context's own
// tenant id, defending against ID substitution in path-based resource URLs.
func (g *Guard) checkPath(tc *tenantauth.TenantContext, req *http.Request) *Violation {
	for _, seg := range strings.Split(strings.Trim(req.URL.Path, "/"), "/") {
		if seg == "" || seg == tc.TenantID {
			continue
		}
		if uuid.Validate(seg) == nil {
			return &Violation{Source: "path", Path: "suspiciousPathSegment", Value: seg}
		}
	}
	return nil
}

// checkBody scans mutation payloads (POST/PUT only) for tenant references.
// The scan is best-effort: a body that does not parse as JSON is nothing to
// scan, not an error. The body is restored for downstream readers.
func (g *Guard) checkBody(tc *tenantauth.TenantContext, req *http.Request) []Violation {
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		return nil
	}
	if req.Body == nil {
		return nil
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	return ScanValue(payload, tc.TenantID, g.maxDepth)
}

// ScanValue recursively walks a decoded payload collecting cross-tenant
// references: any key literally named "tenantId" or ending in "TenantId"
// whose value is a UUID unequal to tenantID (and not the "system" sentinel),
// plus the same rule applied to every value under an "acl"-named field.
// Recursion stops at maxDepth to bound pathological nesting.
func ScanValue(payload any, tenantID string, maxDepth int) []Violation {
	var out []Violation
	walk(payload, "", tenantID, maxDepth, false, &out)
	return out
}

func walk(v any, path, tenantID string, depth int, inACL bool, out *[]Violation) {
	if depth < 0 {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if isTenantKey(k) {
				if s, ok := child.(string); ok && isForeignTenant(s, tenantID) {
					*out = append(*out, Violation{Source: "body", Path: childPath, Value: s})
				}
			}
			if inACL {
				// inside an acl every UUID-valued string is a resource
				// reference subject to the same equality rule
				if s, ok := child.(string); ok && !isTenantKey(k) && isForeignTenant(s, tenantID) {
					*out = append(*out, Violation{Source: "body", Path: childPath, Value: s})
				}
			}
			walk(child, childPath, tenantID, depth-1, inACL || k == "acl", out)
		}
	case []any:
		for i, child := range val {
			childPath := path + "[" + strconv.Itoa(i) + "]"
			if inACL {
				if s, ok := child.(string); ok && isForeignTenant(s, tenantID) {
					*out = append(*out, Violation{Source: "body", Path: childPath, Value: s})
				}
			}
			walk(child, childPath, tenantID, depth-1, inACL, out)
		}
	}
}

func isTenantKey(k string) bool {
	return k == "tenantId" || strings.HasSuffix(k, "TenantId")
}

func isForeignTenant(value, tenantID string) bool {
	if value == tenantID || value == systemTenantSentinel {
		return false
	}
	return uuid.Validate(value) == nil
}

// isGlobalAdmin consults the role store; a lookup failure counts as not
// global, keeping the guard fail-closed.
func (g *Guard) isGlobalAdmin(ctx context.Context, subjectID string) bool {
	if g.roles == nil {
		return false
	}
	ok, err := g.roles.HasGlobalRole(ctx, subjectID)
	if err != nil {
		g.logger.Error("global role lookup failed", "subject_id", subjectID, "error", err)
		return false
	}
	return ok
}

// record emits exactly one audit event describing every violation found by
// the triggering check.
func (g *Guard) record(ctx context.Context, tc *tenantauth.TenantContext, req *http.Request, vs []Violation) {
	details := map[string]any{
		"method":     req.Method,
		"path":       req.URL.Path,
		"violations": vs,
	}
	if len(vs) == 1 {
		details[vs[0].Path] = vs[0].Value
	}
	g.recorder.LogCrossTenantAccessAttempt(ctx, tc, details)
}

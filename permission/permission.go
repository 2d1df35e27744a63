// Package permission evaluates fine-grained resource/permission checks
// against the role store under an established tenant context.
//
// Denials are ordinary decision outcomes, not errors: every check returns an
// AccessDecision and reserves its error value for failures of the
// authorization machinery itself (store unreachable, decode error), which map
// to ErrValidationFailed and a 500-equivalent. Fail closed: no handler
// runs.
//
// Empty-list semantics are deliberately asymmetric and must stay that way
// pending product confirmation: CheckAny([]) denies without querying the
// store (no permission can satisfy an empty requirement), CheckAll([]) grants
// without querying the store (vacuous truth).
package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	tenantauth "github.com/harborlist/tenantauth-go"
)

// Evaluator runs permission checks against a role store. Every check
// re-queries the store; grants must reflect the most recent state, so there
// is no decision caching here.
type Evaluator struct {
	roles tenantauth.RoleStore
}

// NewEvaluator creates an Evaluator over the given role store.
func NewEvaluator(roles tenantauth.RoleStore) *Evaluator {
	return &Evaluator{roles: roles}
}

// Check evaluates a single (resource type, permission[, resource id]) grant.
func (e *Evaluator) Check(ctx context.Context, tc *tenantauth.TenantContext, resource tenantauth.ResourceType, perm tenantauth.Permission, resourceID string) (*tenantauth.AccessDecision, error) {
	ok, err := e.roles.HasPermission(ctx, tc.SubjectID, tc.TenantID, resource, perm, resourceID)
	if err != nil {
		return nil, fmt.Errorf("tenantauth/permission: %w: %v", tenantauth.ErrValidationFailed, err)
	}

	d := &tenantauth.AccessDecision{
		Granted:      ok,
		ResourceType: resource,
		Permission:   perm,
		ResourceID:   resourceID,
	}
	if !ok {
		d.MissingPermission = perm
		if resourceID != "" {
			d.Reason = fmt.Sprintf("missing permission %s:%s on resource %s", resource, perm, resourceID)
		} else {
			d.Reason = fmt.Sprintf("missing permission %s:%s", resource, perm)
		}
	}
	return d, nil
}

// CheckAny grants if any listed permission is held, iterating in the
// caller-supplied order and stopping at the first grant. An empty list denies
// immediately with zero store calls and reports an empty permissions detail.
func (e *Evaluator) CheckAny(ctx context.Context, tc *tenantauth.TenantContext, resource tenantauth.ResourceType, perms []tenantauth.Permission) (*tenantauth.AccessDecision, error) {
	if len(perms) == 0 {
		return &tenantauth.AccessDecision{
			Granted:      false,
			ResourceType: resource,
			Permissions:  []tenantauth.Permission{},
			Reason:       "no permission can satisfy an empty requirement",
		}, nil
	}

	for _, p := range perms {
		ok, err := e.roles.HasPermission(ctx, tc.SubjectID, tc.TenantID, resource, p, "")
		if err != nil {
			return nil, fmt.Errorf("tenantauth/permission: %w: %v", tenantauth.ErrValidationFailed, err)
		}
		if ok {
			return &tenantauth.AccessDecision{
				Granted:      true,
				ResourceType: resource,
				Permission:   p,
				Permissions:  perms,
			}, nil
		}
	}

	return &tenantauth.AccessDecision{
		Granted:      false,
		ResourceType: resource,
		Permissions:  perms,
		Reason:       fmt.Sprintf("none of the required permissions held on %s", resource),
	}, nil
}

// CheckAll grants only if every listed permission is held, denying at the
// first failure and naming that specific missing permission. An empty list
// grants immediately with zero store calls.
func (e *Evaluator) CheckAll(ctx context.Context, tc *tenantauth.TenantContext, resource tenantauth.ResourceType, perms []tenantauth.Permission) (*tenantauth.AccessDecision, error) {
	if len(perms) == 0 {
		return &tenantauth.AccessDecision{
			Granted:      true,
			ResourceType: resource,
			Permissions:  []tenantauth.Permission{},
		}, nil
	}

	for _, p := range perms {
		ok, err := e.roles.HasPermission(ctx, tc.SubjectID, tc.TenantID, resource, p, "")
		if err != nil {
			return nil, fmt.Errorf("tenantauth/permission: %w: %v", tenantauth.ErrValidationFailed, err)
		}
		if !ok {
			return &tenantauth.AccessDecision{
				Granted:           false,
				ResourceType:      resource,
				Permissions:       perms,
				MissingPermission: p,
				Reason:            fmt.Sprintf("missing permission %s:%s", resource, p),
			}, nil
		}
	}

	return &tenantauth.AccessDecision{
		Granted:      true,
		ResourceType: resource,
		Permissions:  perms,
	}, nil
}

// CheckResource evaluates a permission scoped to a resource id extracted from
// the request. When extraction yields nothing and the caller marked the id
// mandatory, it returns ErrMissingResourceID (a 400, distinct from a 403);
// otherwise the check proceeds tenant-wide with an empty resource id.
func (e *Evaluator) CheckResource(ctx context.Context, tc *tenantauth.TenantContext, req *http.Request, resource tenantauth.ResourceType, perm tenantauth.Permission, param string, required bool) (*tenantauth.AccessDecision, error) {
	resourceID := ExtractResourceID(req, param)
	if resourceID == "" && required {
		return nil, fmt.Errorf("tenantauth/permission: %w: no %q in query, body, or path", tenantauth.ErrMissingResourceID, param)
	}
	return e.Check(ctx, tc, resource, perm, resourceID)
}

// pathIDPattern accepts identifier-like trailing path segments: alphanumerics
// and hyphens only.
var pathIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// mutating methods whose bodies are consulted during extraction.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// ExtractResourceID resolves a resource id from the request, in order:
// the named query parameter, a same-named field in the JSON body (mutating
// methods only; a body that fails to read or parse is skipped, not an error),
// and finally the last path segment when it is identifier-shaped. Returns the
// empty string when nothing matches.
func ExtractResourceID(req *http.Request, param string) string {
	if v := req.URL.Query().Get(param); v != "" {
		return v
	}

	if isMutating(req.Method) && req.Body != nil {
		if v := idFromBody(req, param); v != "" {
			return v
		}
	}

	path := strings.Trim(req.URL.Path, "/")
	if path != "" {
		segments := strings.Split(path, "/")
		last := segments[len(segments)-1]
		if pathIDPattern.MatchString(last) {
			return last
		}
	}
	return ""
}

// idFromBody reads and restores the request body, returning the string value
// of the named top-level field if present. Any read or parse failure is
// swallowed and extraction continues with the next source.
func idFromBody(req *http.Request, param string) string {
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if v, ok := payload[param].(string); ok {
		return v
	}
	return ""
}

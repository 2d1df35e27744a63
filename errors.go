package tenantauth

import (
	"errors"
	"net/http"
)

// Error taxonomy for the authorization pipeline. The first four are expected,
// terminal, user-facing outcomes: they short-circuit the pipeline without the
// business handler ever running. ErrValidationFailed is the only unexpected
// fault: it means the authorization machinery itself broke (store unreachable,
// decode error) and maps to a 500 so that incident response can tell "working
// as intended" (403) apart from "authorization system down".
var (
	// ErrUnauthenticated means no credential was presented at all.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidToken means the credential was malformed, expired, or carried
	// a bad signature.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidTenantContext means the tenant id was missing or malformed, or
	// the subject is not a member of the tenant.
	ErrInvalidTenantContext = errors.New("invalid tenant context")

	// ErrPermissionDenied means the subject is authenticated and tenant-valid
	// but lacks the specific grant.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCrossTenantBlocked is a distinct, always-audited subtype of denial.
	ErrCrossTenantBlocked = errors.New("cross-tenant access blocked")

	// ErrMissingResourceID means a check required a resource id and none could
	// be extracted from the request. Maps to 400, deliberately distinct from 403.
	ErrMissingResourceID = errors.New("missing resource id")

	// ErrValidationFailed means the authorization machinery itself failed.
	ErrValidationFailed = errors.New("permission validation failed")
)

// StatusFor maps a pipeline error to its HTTP-equivalent status from the fixed
// table: 400 malformed/missing required context, 401 missing/invalid credential
// or tenant membership, 403 denied / cross-tenant blocked, 500 internal failure.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingResourceID):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidTenantContext):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrCrossTenantBlocked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrorDetails carries the machine-readable specifics of a denial.
type ErrorDetails struct {
	ResourceType      ResourceType `json:"resourceType,omitempty"`
	Permission        Permission   `json:"permission,omitempty"`
	Permissions       []Permission `json:"permissions,omitzero"`
	ResourceID        string       `json:"resourceId,omitempty"`
	MissingPermission Permission   `json:"missingPermission,omitempty"`
}

// APIError is the terminal response body shape produced when the pipeline
// short-circuits. The shape is machine-stable: clients key off Error, humans
// read Message. 500 responses must never carry internal error detail here.
type APIError struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// NewAPIError builds the terminal response body for a pipeline error.
// Internal failures are reported with a generic message so that store
// addresses and stack traces never leak to the caller.
func NewAPIError(err error, message string, details *ErrorDetails) APIError {
	code := "internal_error"
	switch {
	case errors.Is(err, ErrUnauthenticated):
		code = "unauthenticated"
	case errors.Is(err, ErrInvalidToken):
		code = "invalid_token"
	case errors.Is(err, ErrInvalidTenantContext):
		code = "invalid_tenant_context"
	case errors.Is(err, ErrPermissionDenied):
		code = "permission_denied"
	case errors.Is(err, ErrCrossTenantBlocked):
		code = "cross_tenant_blocked"
	case errors.Is(err, ErrMissingResourceID):
		code = "missing_resource_id"
	}
	if code == "internal_error" {
		return APIError{Error: code, Message: "authorization check failed"}
	}
	return APIError{Error: code, Message: message, Details: details}
}

package tenantauth

import "context"

// TokenVerifier verifies bearer credentials and extracts claims.
// Implementations: token/ (HS256 against an injected secret), fake/ (testing).
type TokenVerifier interface {
	// Verify validates the token and returns the extracted claims.
	Verify(ctx context.Context, token string) (*Claims, error)
}

// RoleStore answers permission and role questions from the backing role data.
// It is read-only from this module's perspective and is re-queried on every
// check: decisions must reflect the most recent grant state, so no client-side
// caching happens here.
type RoleStore interface {
	// HasPermission reports whether the subject holds the permission on the
	// resource type within the tenant. An empty resourceID asks about the
	// tenant-wide grant; a tenant-wide grant implies access to every resource
	// id of that type, but a resource-scoped grant does not imply the
	// tenant-wide one.
	HasPermission(ctx context.Context, subjectID, tenantID string, resource ResourceType, permission Permission, resourceID string) (bool, error)

	// HasRoleInTenant reports whether the subject holds any role in the tenant.
	HasRoleInTenant(ctx context.Context, subjectID, tenantID string) (bool, error)

	// HasGlobalRole reports whether the subject holds a platform-global role,
	// exempting it from tenant scoping in audit queries.
	HasGlobalRole(ctx context.Context, subjectID string) (bool, error)
}

// MembershipStore answers tenant membership questions.
type MembershipStore interface {
	// IsTenantMember reports whether the subject is an active member of the tenant.
	IsTenantMember(ctx context.Context, subjectID, tenantID string) (bool, error)
}

// AuditSink receives audit events. Writes are best-effort with respect to the
// governing request: callers must treat a write failure as an operational
// problem to log, never as a reason to fail the request.
// Implementations: gormsink/ (postgres), redisink/ (redis streams), fake/.
type AuditSink interface {
	Write(ctx context.Context, event AuditEvent) error
}

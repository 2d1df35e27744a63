package tenantauth

import "time"

// ResourceType identifies a class of platform resource that permissions apply to.
// The vocabulary is closed: handlers must use these constants rather than raw
// strings so that new resource classes are introduced deliberately.
type ResourceType string

const (
	ResourceListing  ResourceType = "listing"
	ResourceCategory ResourceType = "category"
	ResourceUser     ResourceType = "user"
	ResourceRole     ResourceType = "role"
	ResourceSite     ResourceType = "site"
	ResourceSettings ResourceType = "settings"
	ResourceMedia    ResourceType = "media"
	ResourceTenant   ResourceType = "tenant"
	ResourceAuditLog ResourceType = "audit-log"
)

// Permission is a verb a subject may hold on a resource type.
type Permission string

const (
	PermCreate  Permission = "create"
	PermRead    Permission = "read"
	PermUpdate  Permission = "update"
	PermDelete  Permission = "delete"
	PermPublish Permission = "publish"
	PermManage  Permission = "manage"
)

// Claims represents the standard claims extracted from a verified token.
type Claims struct {
	Subject   string
	Email     string
	Roles     []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
	Extra     map[string]any
}

// TenantContext binds a verified subject to a tenant for the duration of one
// request. It is created at the start of the authorization pipeline, owned
// exclusively by that request, and never persisted or shared across requests.
type TenantContext struct {
	TenantID  string
	SubjectID string
	SiteID    string

	// TraceID correlates every audit event emitted while evaluating this
	// request's authorization. Generated fresh per request.
	TraceID string

	CreatedAt time.Time
}

// AccessDecision is the ephemeral outcome of a permission evaluation. It is
// consumed immediately by the audit recorder and the response step, never stored.
type AccessDecision struct {
	Granted      bool
	ResourceType ResourceType
	Permission   Permission

	// Permissions is set instead of Permission for any-of / all-of checks.
	Permissions []Permission

	ResourceID string
	Reason     string

	// MissingPermission names the specific permission that failed a single or
	// all-of check.
	MissingPermission Permission
}

// AuditAction is the closed vocabulary of audit event actions. Downstream
// querying relies on these exact values; never log free-form action strings.
type AuditAction string

const (
	AuditAccess                   AuditAction = "access"
	AuditDenied                   AuditAction = "denied"
	AuditPermissionDenied         AuditAction = "permission-denied"
	AuditCrossTenantAttempt       AuditAction = "cross-tenant-access-attempt"
	AuditCrossSiteAttempt         AuditAction = "cross-site-access-attempt"
	AuditUnauthorizedTenantAccess AuditAction = "unauthorized-tenant-access"
	AuditSettingsChanged          AuditAction = "settings-changed"
	AuditRoleCreated              AuditAction = "role-created"
	AuditRoleUpdated              AuditAction = "role-updated"
	AuditRoleDeleted              AuditAction = "role-deleted"
	AuditUserAddedToTenant        AuditAction = "user-added-to-tenant"
	AuditUserRemovedFromTenant    AuditAction = "user-removed-from-tenant"
)

// AuditSeverity classifies an audit event for filtering and alerting.
type AuditSeverity string

const (
	SeverityInfo    AuditSeverity = "info"
	SeverityWarning AuditSeverity = "warning"
	SeverityError   AuditSeverity = "error"
)

// AuditEvent is an append-only record of one access decision or security
// observation. Events are never mutated after creation; their lifecycle ends
// at the write to the sink.
type AuditEvent struct {
	ID           string         `json:"id,omitempty"`
	SubjectID    string         `json:"subjectId,omitempty"`
	TenantID     string         `json:"tenantId,omitempty"`
	Action       AuditAction    `json:"action"`
	ResourceType ResourceType   `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Success      bool           `json:"success"`
	Severity     AuditSeverity  `json:"severity"`
	Details      map[string]any `json:"details,omitempty"`
	TraceID      string         `json:"traceId,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

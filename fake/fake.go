// Package fake provides in-memory implementations of the tenantauth
// capability interfaces for testing.
//
// Use fake.New() in unit tests to avoid network calls and external
// dependencies; seed state via Option functions.
package fake

import (
	"context"
	"sort"
	"sync"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
)

type grantKey struct {
	subjectID  string
	tenantID   string
	resource   tenantauth.ResourceType
	permission tenantauth.Permission
	resourceID string // empty means tenant-wide
}

// Stores is an in-memory RoleStore, MembershipStore, and audit.Store in one.
type Stores struct {
	mu          sync.RWMutex
	memberships map[string]map[string]bool // subjectID → tenantID → member
	roles       map[string]map[string]bool // subjectID → tenantID → has role
	globals     map[string]bool            // subjectID → global admin
	grants      map[grantKey]bool
	events      []tenantauth.AuditEvent

	// HasPermissionCalls counts RoleStore.HasPermission invocations so tests
	// can assert the zero-store-call properties of empty any-of/all-of checks.
	HasPermissionCalls int

	failWrites bool
}

// compile-time checks
var (
	_ tenantauth.RoleStore       = (*Stores)(nil)
	_ tenantauth.MembershipStore = (*Stores)(nil)
	_ audit.Store                = (*Stores)(nil)
)

// Option seeds the fake stores.
type Option func(*Stores)

// WithMembership marks the subject an active member of the tenant.
func WithMembership(subjectID, tenantID string) Option {
	return func(s *Stores) {
		if s.memberships[subjectID] == nil {
			s.memberships[subjectID] = make(map[string]bool)
		}
		s.memberships[subjectID][tenantID] = true
	}
}

// WithRoleInTenant marks the subject as holding a role in the tenant.
func WithRoleInTenant(subjectID, tenantID string) Option {
	return func(s *Stores) {
		if s.roles[subjectID] == nil {
			s.roles[subjectID] = make(map[string]bool)
		}
		s.roles[subjectID][tenantID] = true
	}
}

// WithGlobalAdmin marks the subject as holding a platform-global role.
func WithGlobalAdmin(subjectID string) Option {
	return func(s *Stores) { s.globals[subjectID] = true }
}

// WithGrant adds a tenant-wide grant for the resource type and permission.
func WithGrant(subjectID, tenantID string, resource tenantauth.ResourceType, perm tenantauth.Permission) Option {
	return func(s *Stores) {
		s.grants[grantKey{subjectID, tenantID, resource, perm, ""}] = true
	}
}

// WithResourceGrant adds a grant scoped to one specific resource id. It does
// not imply the tenant-wide grant.
func WithResourceGrant(subjectID, tenantID string, resource tenantauth.ResourceType, perm tenantauth.Permission, resourceID string) Option {
	return func(s *Stores) {
		s.grants[grantKey{subjectID, tenantID, resource, perm, resourceID}] = true
	}
}

// WithFailingWrites makes every audit write return an error, for exercising
// the recorder's swallow path.
func WithFailingWrites() Option {
	return func(s *Stores) { s.failWrites = true }
}

// New creates empty in-memory stores seeded by the given options.
func New(opts ...Option) *Stores {
	s := &Stores{
		memberships: make(map[string]map[string]bool),
		roles:       make(map[string]map[string]bool),
		globals:     make(map[string]bool),
		grants:      make(map[grantKey]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// --- RoleStore ---

// HasPermission honors the grant scoping invariant: a tenant-wide grant
// implies every resource id of that type, a resource-scoped grant matches
// only its own id.
func (s *Stores) HasPermission(_ context.Context, subjectID, tenantID string, resource tenantauth.ResourceType, perm tenantauth.Permission, resourceID string) (bool, error) {
	s.mu.Lock()
	s.HasPermissionCalls++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.grants[grantKey{subjectID, tenantID, resource, perm, ""}] {
		return true, nil
	}
	if resourceID != "" && s.grants[grantKey{subjectID, tenantID, resource, perm, resourceID}] {
		return true, nil
	}
	return false, nil
}

// HasRoleInTenant reports whether the subject holds any role in the tenant.
func (s *Stores) HasRoleInTenant(_ context.Context, subjectID, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[subjectID][tenantID], nil
}

// HasGlobalRole reports whether the subject is a global admin.
func (s *Stores) HasGlobalRole(_ context.Context, subjectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globals[subjectID], nil
}

// --- MembershipStore ---

// IsTenantMember reports whether the subject is an active tenant member.
func (s *Stores) IsTenantMember(_ context.Context, subjectID, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberships[subjectID][tenantID], nil
}

// --- audit.Store ---

// Write appends an event. With WithFailingWrites it returns errWriteFailed
// instead.
func (s *Stores) Write(_ context.Context, event tenantauth.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	s.events = append(s.events, event)
	return nil
}

// Query filters the stored events in memory, newest first.
func (s *Stores) Query(_ context.Context, f audit.Filter) ([]tenantauth.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []tenantauth.AuditEvent
	for _, e := range s.events {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Events returns a copy of every stored event in insertion order.
func (s *Stores) Events() []tenantauth.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tenantauth.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsByAction returns stored events with the given action, insertion order.
func (s *Stores) EventsByAction(action tenantauth.AuditAction) []tenantauth.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tenantauth.AuditEvent
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type writeError string

func (e writeError) Error() string { return string(e) }

const errWriteFailed = writeError("fake: audit write failed")

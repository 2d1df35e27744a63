package audit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tenantauth "github.com/harborlist/tenantauth-go"
)

// Pagination and aggregation bounds for the query surface.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000

	// StatsScanLimit caps how many events a statistics call will aggregate.
	// It is strictly a safety cap, not a promise to scan the whole history.
	StatsScanLimit = 5000

	DefaultStatsWindowDays = 30
	MaxStatsWindowDays     = 365
)

// Filter narrows an audit query. Zero values mean "no constraint".
type Filter struct {
	TenantID     string
	SubjectID    string
	Actions      []tenantauth.AuditAction
	Severities   []tenantauth.AuditSeverity
	ResourceType tenantauth.ResourceType
	ResourceID   string
	From         time.Time
	To           time.Time
	Success      *bool
	Limit        int
	Offset       int
}

// ParseActions splits a single or comma-separated action string into the
// closed vocabulary values.
func ParseActions(s string) []tenantauth.AuditAction {
	if s == "" {
		return nil
	}
	var out []tenantauth.AuditAction
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, tenantauth.AuditAction(part))
		}
	}
	return out
}

// ParseSeverities splits a single or comma-separated severity string.
func ParseSeverities(s string) []tenantauth.AuditSeverity {
	if s == "" {
		return nil
	}
	var out []tenantauth.AuditSeverity
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, tenantauth.AuditSeverity(part))
		}
	}
	return out
}

// ClampLimit applies the default and hard cap to a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// ClampOffset floors a requested offset at zero.
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// Stats aggregates a bounded window of audit events. Computed per call as a
// read-side aggregation over queried events, never kept as running counters,
// because the window is caller-specified.
type Stats struct {
	Total          int            `json:"total"`
	ByAction       map[string]int `json:"byAction"`
	BySeverity     map[string]int `json:"bySeverity"`
	ByResourceType map[string]int `json:"byResourceType"`
	BySubject      map[string]int `json:"bySubject"`
	ByDay          map[string]int `json:"byDay"`

	// SuccessRate is a percentage: 2 events with 1 success yields 50.
	SuccessRate float64 `json:"successRate"`

	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Service is the tenant-scoped read surface over an audit Store.
type Service struct {
	store Store
}

// NewService creates the audit query service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// QueryEvents runs a filtered query on behalf of a caller. Non-global callers
// are always constrained to their own tenant: the filter's tenant field is
// silently overridden, never merely validated, so a crafted filter cannot
// leak cross-tenant rows. Pagination is clamped to the documented bounds.
func (s *Service) QueryEvents(ctx context.Context, f Filter, callerTenantID string, isGlobalAdmin bool) ([]tenantauth.AuditEvent, error) {
	if !isGlobalAdmin {
		f.TenantID = callerTenantID
	}
	f.Limit = ClampLimit(f.Limit)
	f.Offset = ClampOffset(f.Offset)

	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("tenantauth/audit: %w: %v", tenantauth.ErrValidationFailed, err)
	}
	return events, nil
}

// RecentEvents is the simplified dashboard query: same pagination bounds, no
// filter vocabulary.
func (s *Service) RecentEvents(ctx context.Context, callerTenantID string, isGlobalAdmin bool, limit, offset int) ([]tenantauth.AuditEvent, error) {
	return s.QueryEvents(ctx, Filter{Limit: limit, Offset: offset}, callerTenantID, isGlobalAdmin)
}

// Stats aggregates events for a caller-specified window. An explicit from/to
// range wins; otherwise the window is the trailing windowDays, defaulting to
// 30 and clamped to [1, 365]. The scan is bounded at StatsScanLimit events.
func (s *Service) Stats(ctx context.Context, callerTenantID string, isGlobalAdmin bool, from, to time.Time, windowDays int) (*Stats, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		days := windowDays
		if days <= 0 {
			days = DefaultStatsWindowDays
		}
		if days > MaxStatsWindowDays {
			days = MaxStatsWindowDays
		}
		from = to.AddDate(0, 0, -days)
	}

	f := Filter{From: from, To: to, Limit: StatsScanLimit}
	if !isGlobalAdmin {
		f.TenantID = callerTenantID
	}
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("tenantauth/audit: %w: %v", tenantauth.ErrValidationFailed, err)
	}

	stats := &Stats{
		Total:          len(events),
		ByAction:       make(map[string]int),
		BySeverity:     make(map[string]int),
		ByResourceType: make(map[string]int),
		BySubject:      make(map[string]int),
		ByDay:          make(map[string]int),
		From:           from,
		To:             to,
	}
	successes := 0
	for _, e := range events {
		stats.ByAction[string(e.Action)]++
		stats.BySeverity[string(e.Severity)]++
		if e.ResourceType != "" {
			stats.ByResourceType[string(e.ResourceType)]++
		}
		if e.SubjectID != "" {
			stats.BySubject[e.SubjectID]++
		}
		stats.ByDay[e.Timestamp.UTC().Format("2006-01-02")]++
		if e.Success {
			successes++
		}
	}
	if len(events) > 0 {
		rate := float64(successes) / float64(len(events)) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

// Matches reports whether an event satisfies the non-pagination parts of the
// filter. In-memory stores use it; SQL stores push the filter down instead.
func (f Filter) Matches(e tenantauth.AuditEvent) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

func containsAction(actions []tenantauth.AuditAction, a tenantauth.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func containsSeverity(sevs []tenantauth.AuditSeverity, s tenantauth.AuditSeverity) bool {
	for _, x := range sevs {
		if x == s {
			return true
		}
	}
	return false
}

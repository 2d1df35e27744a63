package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	tenantauth "github.com/harborlist/tenantauth-go"
)

// captureStore records the filter each query ran with.
type captureStore struct {
	lastFilter Filter
	events     []tenantauth.AuditEvent
	err        error
}

func (c *captureStore) Write(_ context.Context, e tenantauth.AuditEvent) error {
	c.events = append(c.events, e)
	return nil
}

func (c *captureStore) Query(_ context.Context, f Filter) ([]tenantauth.AuditEvent, error) {
	c.lastFilter = f
	if c.err != nil {
		return nil, c.err
	}
	var out []tenantauth.AuditEvent
	for _, e := range c.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestQueryEventsOverridesTenantForNonAdmin(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	_, err := svc.QueryEvents(context.Background(), Filter{TenantID: tenantB}, tenantA, false)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if store.lastFilter.TenantID != tenantA {
		t.Errorf("tenant filter = %q, want caller's own %q (silent override)", store.lastFilter.TenantID, tenantA)
	}
}

func TestQueryEventsKeepsTenantForGlobalAdmin(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	_, err := svc.QueryEvents(context.Background(), Filter{TenantID: tenantB}, tenantA, true)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if store.lastFilter.TenantID != tenantB {
		t.Errorf("tenant filter = %q, want requested %q", store.lastFilter.TenantID, tenantB)
	}
}

func TestQueryEventsClampsPagination(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	if _, err := svc.QueryEvents(context.Background(), Filter{Limit: 5000, Offset: -5}, tenantA, false); err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if store.lastFilter.Limit != MaxQueryLimit {
		t.Errorf("limit = %d, want %d", store.lastFilter.Limit, MaxQueryLimit)
	}
	if store.lastFilter.Offset != 0 {
		t.Errorf("offset = %d, want 0", store.lastFilter.Offset)
	}

	if _, err := svc.QueryEvents(context.Background(), Filter{}, tenantA, false); err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if store.lastFilter.Limit != DefaultQueryLimit {
		t.Errorf("default limit = %d, want %d", store.lastFilter.Limit, DefaultQueryLimit)
	}
}

func TestQueryEventsStoreFailureIsValidationFailed(t *testing.T) {
	store := &captureStore{err: errors.New("db gone")}
	svc := NewService(store)

	_, err := svc.QueryEvents(context.Background(), Filter{}, tenantA, false)
	if !errors.Is(err, tenantauth.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestStatsAggregation(t *testing.T) {
	now := time.Now().UTC()
	store := &captureStore{events: []tenantauth.AuditEvent{
		{TenantID: tenantA, SubjectID: subject, Action: tenantauth.AuditAccess, Severity: tenantauth.SeverityInfo, ResourceType: tenantauth.ResourceListing, Success: true, Timestamp: now},
		{TenantID: tenantA, SubjectID: subject, Action: tenantauth.AuditPermissionDenied, Severity: tenantauth.SeverityWarning, ResourceType: tenantauth.ResourceListing, Success: false, Timestamp: now},
	}}
	svc := NewService(store)

	stats, err := svc.Stats(context.Background(), tenantA, false, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.SuccessRate != 50 {
		t.Errorf("success rate = %v, want 50 (percentage)", stats.SuccessRate)
	}
	if stats.ByAction["access"] != 1 || stats.ByAction["permission-denied"] != 1 {
		t.Errorf("by action = %v", stats.ByAction)
	}
	if stats.BySeverity["warning"] != 1 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
	if stats.ByResourceType["listing"] != 2 {
		t.Errorf("by resource type = %v", stats.ByResourceType)
	}
	if stats.BySubject[subject] != 2 {
		t.Errorf("by subject = %v", stats.BySubject)
	}
	if stats.ByDay[now.Format("2006-01-02")] != 2 {
		t.Errorf("by day = %v", stats.ByDay)
	}
}

func TestStatsDefaultWindowAndScanCap(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	before := time.Now().UTC()
	if _, err := svc.Stats(context.Background(), tenantA, false, time.Time{}, time.Time{}, 0); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if store.lastFilter.Limit != StatsScanLimit {
		t.Errorf("scan limit = %d, want %d", store.lastFilter.Limit, StatsScanLimit)
	}
	wantFrom := before.AddDate(0, 0, -DefaultStatsWindowDays)
	if store.lastFilter.From.Before(wantFrom.Add(-time.Minute)) || store.lastFilter.From.After(wantFrom.Add(time.Minute)) {
		t.Errorf("from = %v, want ~%v", store.lastFilter.From, wantFrom)
	}
}

func TestStatsWindowClamped(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	if _, err := svc.Stats(context.Background(), tenantA, false, time.Time{}, time.Time{}, 9999); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	window := store.lastFilter.To.Sub(store.lastFilter.From)
	if window > time.Duration(MaxStatsWindowDays)*24*time.Hour+time.Hour {
		t.Errorf("window = %v, want clamped to %d days", window, MaxStatsWindowDays)
	}
}

func TestStatsExplicitRangeWins(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Stats(context.Background(), tenantA, false, from, to, 7); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !store.lastFilter.From.Equal(from) || !store.lastFilter.To.Equal(to) {
		t.Errorf("range = [%v, %v], want explicit [%v, %v]", store.lastFilter.From, store.lastFilter.To, from, to)
	}
}

func TestStatsScopesNonAdminToOwnTenant(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	if _, err := svc.Stats(context.Background(), tenantA, false, time.Time{}, time.Time{}, 0); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if store.lastFilter.TenantID != tenantA {
		t.Errorf("tenant filter = %q, want %q", store.lastFilter.TenantID, tenantA)
	}
}

func TestParseActions(t *testing.T) {
	got := ParseActions("access, permission-denied ,")
	if len(got) != 2 || got[0] != tenantauth.AuditAccess || got[1] != tenantauth.AuditPermissionDenied {
		t.Errorf("ParseActions = %v", got)
	}
	if ParseActions("") != nil {
		t.Error("empty input should parse to nil")
	}
}

func TestFilterMatches(t *testing.T) {
	now := time.Now().UTC()
	e := tenantauth.AuditEvent{
		TenantID:     tenantA,
		SubjectID:    subject,
		Action:       tenantauth.AuditDenied,
		Severity:     tenantauth.SeverityWarning,
		ResourceType: tenantauth.ResourceListing,
		ResourceID:   "listing-7",
		Success:      false,
		Timestamp:    now,
	}

	no := false
	yes := true
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter", Filter{}, true},
		{"tenant match", Filter{TenantID: tenantA}, true},
		{"tenant mismatch", Filter{TenantID: tenantB}, false},
		{"action match", Filter{Actions: []tenantauth.AuditAction{tenantauth.AuditDenied}}, true},
		{"action mismatch", Filter{Actions: []tenantauth.AuditAction{tenantauth.AuditAccess}}, false},
		{"severity match", Filter{Severities: []tenantauth.AuditSeverity{tenantauth.SeverityWarning}}, true},
		{"resource id match", Filter{ResourceID: "listing-7"}, true},
		{"resource id mismatch", Filter{ResourceID: "listing-8"}, false},
		{"success false match", Filter{Success: &no}, true},
		{"success true mismatch", Filter{Success: &yes}, false},
		{"window contains", Filter{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, true},
		{"window excludes", Filter{From: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(e); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

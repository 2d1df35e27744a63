package guard

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
	"github.com/harborlist/tenantauth-go/fake"
)

const (
	tenantA = "0b2586f1-7a1b-4f8f-9c3e-5a4f8a2d1e90"
	tenantB = "9c1f5c21-83ab-4dbb-92a7-3f2f1a6f8f11"
	subject = "user-123"
)

func testContext() *tenantauth.TenantContext {
	return &tenantauth.TenantContext{
		TenantID:  tenantA,
		SubjectID: subject,
		TraceID:   "trace-guard",
	}
}

func newGuard(stores *fake.Stores) *Guard {
	return NewGuard(audit.NewRecorder(stores), stores)
}

func TestQueryParamMismatchBlocks(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	req := httptest.NewRequest("GET", "/api/v1/listings?tenantId="+tenantB, nil)
	_, err := g.Inspect(context.Background(), testContext(), req)
	if !errors.Is(err, tenantauth.ErrCrossTenantBlocked) {
		t.Fatalf("expected ErrCrossTenantBlocked, got %v", err)
	}

	events := stores.EventsByAction(tenantauth.AuditCrossTenantAttempt)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 audit event, got %d", len(events))
	}
	if events[0].TraceID != "trace-guard" {
		t.Errorf("event trace id = %q", events[0].TraceID)
	}
}

func TestQueryParamOwnTenantAllowed(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	req := httptest.NewRequest("GET", "/api/v1/listings?tenantId="+tenantA, nil)
	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(stores.Events()) != 0 {
		t.Errorf("no audit events expected, got %d", len(stores.Events()))
	}
}

func TestForeignUUIDPathSegmentBlocks(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	req := httptest.NewRequest("GET", "/api/v1/tenants/"+tenantB+"/listings", nil)
	_, err := g.Inspect(context.Background(), testContext(), req)
	if !errors.Is(err, tenantauth.ErrCrossTenantBlocked) {
		t.Fatalf("expected ErrCrossTenantBlocked, got %v", err)
	}

	events := stores.EventsByAction(tenantauth.AuditCrossTenantAttempt)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 audit event, got %d", len(events))
	}
	if got := events[0].Details["suspiciousPathSegment"]; got != tenantB {
		t.Errorf("suspiciousPathSegment = %v, want %q", got, tenantB)
	}
}

func TestOwnTenantPathSegmentAllowed(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	req := httptest.NewRequest("GET", "/api/v1/tenants/"+tenantA+"/listings", nil)
	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
}

func TestGlobalAdminBypassesPathCheck(t *testing.T) {
	stores := fake.New(fake.WithGlobalAdmin(subject))
	g := newGuard(stores)

	req := httptest.NewRequest("GET", "/api/v1/tenants/"+tenantB+"/listings", nil)
	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("global admin should pass the path check, got %v", err)
	}
}

func TestBodyTenantIdMismatchBlocks(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"title":"Boat","tenantId":"` + tenantB + `"}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body))

	_, err := g.Inspect(context.Background(), testContext(), req)
	if !errors.Is(err, tenantauth.ErrCrossTenantBlocked) {
		t.Fatalf("expected ErrCrossTenantBlocked, got %v", err)
	}

	events := stores.EventsByAction(tenantauth.AuditCrossTenantAttempt)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 audit event, got %d", len(events))
	}
}

func TestBodySuffixTenantIdKeyDetected(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"listing":{"ownerTenantId":"` + tenantB + `"}}`
	req := httptest.NewRequest("PUT", "/api/v1/listings", strings.NewReader(body))

	_, err := g.Inspect(context.Background(), testContext(), req)
	if !errors.Is(err, tenantauth.ErrCrossTenantBlocked) {
		t.Fatalf("expected ErrCrossTenantBlocked, got %v", err)
	}
}

func TestBodySystemSentinelAllowed(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"tenantId":"system"}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body))

	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("system sentinel must pass, got %v", err)
	}
}

func TestBodyOwnTenantAllowed(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"tenantId":"` + tenantA + `"}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body))

	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("own tenant must pass, got %v", err)
	}
}

func TestBodyNonUUIDValueIgnored(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"tenantId":"not-a-uuid"}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body))

	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("non-UUID value is not a tenant reference, got %v", err)
	}
}

func TestUnparseableBodyIsNothingToScan(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader("%%% not json"))
	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("unparseable body must be treated as nothing to scan, got %v", err)
	}
}

func TestGETBodyNotScanned(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"tenantId":"` + tenantB + `"}`
	req := httptest.NewRequest("GET", "/api/v1/listings", strings.NewReader(body))

	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("GET bodies are not scanned, got %v", err)
	}
}

func TestACLScanDetectsForeignReference(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	body := `{"acl":{"readers":["` + tenantB + `"]}}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(body))

	_, err := g.Inspect(context.Background(), testContext(), req)
	if !errors.Is(err, tenantauth.ErrCrossTenantBlocked) {
		t.Fatalf("expected ErrCrossTenantBlocked for acl reference, got %v", err)
	}
}

func TestScanValueCollectsEveryViolation(t *testing.T) {
	payload := map[string]any{
		"tenantId": tenantB,
		"nested": map[string]any{
			"parentTenantId": tenantB,
		},
	}
	vs := ScanValue(payload, tenantA, 10)
	if len(vs) != 2 {
		t.Fatalf("violations = %d, want 2", len(vs))
	}
}

func TestScanValueDepthBound(t *testing.T) {
	// nest the foreign tenant id below the depth bound
	deep := map[string]any{"tenantId": tenantB}
	payload := any(deep)
	for i := 0; i < 5; i++ {
		payload = map[string]any{"level": payload}
	}
	if vs := ScanValue(payload, tenantA, 3); len(vs) != 0 {
		t.Errorf("violations beyond depth bound = %d, want 0", len(vs))
	}
	if vs := ScanValue(payload, tenantA, 10); len(vs) != 1 {
		t.Errorf("violations within depth bound = %d, want 1", len(vs))
	}
}

func TestBodyRestoredAfterScan(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	raw := `{"tenantId":"` + tenantA + `","title":"Boat"}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(raw))

	if _, err := g.Inspect(context.Background(), testContext(), req); err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	got, _ := io.ReadAll(req.Body)
	if string(got) != raw {
		t.Errorf("body after scan = %q, want original", string(got))
	}
}

func TestRepeatedViolationsAreNotDeduplicated(t *testing.T) {
	stores := fake.New()
	g := newGuard(stores)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/v1/listings?tenantId="+tenantB, nil)
		if _, err := g.Inspect(context.Background(), testContext(), req); !errors.Is(err, tenantauth.ErrCrossTenantBlocked) {
			t.Fatalf("expected block, got %v", err)
		}
	}
	if n := len(stores.EventsByAction(tenantauth.AuditCrossTenantAttempt)); n != 2 {
		t.Errorf("audit events = %d, want 2 (audit logging is a log, not idempotent)", n)
	}
}

package permission

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/fake"
)

const (
	tenantA = "0b2586f1-7a1b-4f8f-9c3e-5a4f8a2d1e90"
	subject = "user-123"
)

func testContext() *tenantauth.TenantContext {
	return &tenantauth.TenantContext{
		TenantID:  tenantA,
		SubjectID: subject,
		TraceID:   "trace-1",
	}
}

func TestSingleCheckGranted(t *testing.T) {
	stores := fake.New(fake.WithGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermRead))
	e := NewEvaluator(stores)

	d, err := e.Check(context.Background(), testContext(), tenantauth.ResourceListing, tenantauth.PermRead, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Granted {
		t.Fatal("expected grant")
	}
}

func TestSingleCheckDeniedNamesPermission(t *testing.T) {
	stores := fake.New()
	e := NewEvaluator(stores)

	d, err := e.Check(context.Background(), testContext(), tenantauth.ResourceListing, tenantauth.PermDelete, "listing-7")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Granted {
		t.Fatal("expected denial")
	}
	if d.MissingPermission != tenantauth.PermDelete {
		t.Errorf("missing permission = %q", d.MissingPermission)
	}
	if !strings.Contains(d.Reason, "listing:delete") || !strings.Contains(d.Reason, "listing-7") {
		t.Errorf("reason should name permission and resource id, got %q", d.Reason)
	}
}

func TestTenantWideGrantImpliesResource(t *testing.T) {
	stores := fake.New(fake.WithGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermUpdate))
	e := NewEvaluator(stores)

	d, err := e.Check(context.Background(), testContext(), tenantauth.ResourceListing, tenantauth.PermUpdate, "listing-42")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Granted {
		t.Fatal("tenant-wide grant should imply every resource id")
	}
}

func TestResourceGrantDoesNotImplyTenantWide(t *testing.T) {
	stores := fake.New(fake.WithResourceGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermUpdate, "listing-42"))
	e := NewEvaluator(stores)

	scoped, err := e.Check(context.Background(), testContext(), tenantauth.ResourceListing, tenantauth.PermUpdate, "listing-42")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !scoped.Granted {
		t.Fatal("scoped grant should match its own resource id")
	}

	wide, err := e.Check(context.Background(), testContext(), tenantauth.ResourceListing, tenantauth.PermUpdate, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if wide.Granted {
		t.Fatal("scoped grant must not imply the tenant-wide grant")
	}
}

func TestCheckAnyFirstSuccessWins(t *testing.T) {
	stores := fake.New(fake.WithGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermUpdate))
	e := NewEvaluator(stores)

	d, err := e.CheckAny(context.Background(), testContext(), tenantauth.ResourceListing,
		[]tenantauth.Permission{tenantauth.PermUpdate, tenantauth.PermManage})
	if err != nil {
		t.Fatalf("CheckAny: %v", err)
	}
	if !d.Granted {
		t.Fatal("expected grant")
	}
	if d.Permission != tenantauth.PermUpdate {
		t.Errorf("granted permission = %q, want update", d.Permission)
	}
	if stores.HasPermissionCalls != 1 {
		t.Errorf("store calls = %d, want 1 (stop at first success)", stores.HasPermissionCalls)
	}
}

func TestCheckAnyEmptyDeniesWithoutStoreCall(t *testing.T) {
	stores := fake.New(fake.WithGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermManage))
	e := NewEvaluator(stores)

	d, err := e.CheckAny(context.Background(), testContext(), tenantauth.ResourceListing, nil)
	if err != nil {
		t.Fatalf("CheckAny: %v", err)
	}
	if d.Granted {
		t.Fatal("empty any-of must deny")
	}
	if d.Permissions == nil || len(d.Permissions) != 0 {
		t.Errorf("decision must report an empty permissions list, got %v", d.Permissions)
	}
	if stores.HasPermissionCalls != 0 {
		t.Errorf("store calls = %d, want 0", stores.HasPermissionCalls)
	}
}

func TestCheckAllEmptyGrantsWithoutStoreCall(t *testing.T) {
	stores := fake.New()
	e := NewEvaluator(stores)

	d, err := e.CheckAll(context.Background(), testContext(), tenantauth.ResourceListing, nil)
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if !d.Granted {
		t.Fatal("empty all-of must grant")
	}
	if stores.HasPermissionCalls != 0 {
		t.Errorf("store calls = %d, want 0", stores.HasPermissionCalls)
	}
}

func TestCheckAllNamesFirstMissing(t *testing.T) {
	stores := fake.New(fake.WithGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermRead))
	e := NewEvaluator(stores)

	d, err := e.CheckAll(context.Background(), testContext(), tenantauth.ResourceListing,
		[]tenantauth.Permission{tenantauth.PermRead, tenantauth.PermPublish, tenantauth.PermDelete})
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if d.Granted {
		t.Fatal("expected denial")
	}
	if d.MissingPermission != tenantauth.PermPublish {
		t.Errorf("missing permission = %q, want publish (first failure)", d.MissingPermission)
	}
	if stores.HasPermissionCalls != 2 {
		t.Errorf("store calls = %d, want 2 (stop at first failure)", stores.HasPermissionCalls)
	}
}

type failingRoles struct{ tenantauth.RoleStore }

func (failingRoles) HasPermission(context.Context, string, string, tenantauth.ResourceType, tenantauth.Permission, string) (bool, error) {
	return false, errors.New("store unreachable")
}

func TestStoreFailureIsValidationFailed(t *testing.T) {
	e := NewEvaluator(failingRoles{})

	_, err := e.Check(context.Background(), testContext(), tenantauth.ResourceListing, tenantauth.PermRead, "")
	if !errors.Is(err, tenantauth.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestExtractResourceIDQueryWins(t *testing.T) {
	body := strings.NewReader(`{"listingId":"from-body"}`)
	req := httptest.NewRequest("POST", "/api/v1/listings/from-path?listingId=from-query", body)

	if got := ExtractResourceID(req, "listingId"); got != "from-query" {
		t.Errorf("id = %q, want from-query", got)
	}
}

func TestExtractResourceIDBodyBeatsPath(t *testing.T) {
	body := strings.NewReader(`{"listingId":"from-body"}`)
	req := httptest.NewRequest("POST", "/api/v1/listings/from-path", body)

	if got := ExtractResourceID(req, "listingId"); got != "from-body" {
		t.Errorf("id = %q, want from-body", got)
	}
}

func TestExtractResourceIDBodyIgnoredForGET(t *testing.T) {
	body := strings.NewReader(`{"listingId":"from-body"}`)
	req := httptest.NewRequest("GET", "/api/v1/listings/from-path", body)

	if got := ExtractResourceID(req, "listingId"); got != "from-path" {
		t.Errorf("id = %q, want from-path", got)
	}
}

func TestExtractResourceIDBadBodyFallsThrough(t *testing.T) {
	body := strings.NewReader(`{not json`)
	req := httptest.NewRequest("PUT", "/api/v1/listings/listing-9", body)

	if got := ExtractResourceID(req, "listingId"); got != "listing-9" {
		t.Errorf("id = %q, want listing-9 (body parse failure is swallowed)", got)
	}
}

func TestExtractResourceIDRejectsNonIdentifierSegment(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/listings/v1.2%20x", nil)

	if got := ExtractResourceID(req, "listingId"); got != "" {
		t.Errorf("id = %q, want empty for non-identifier segment", got)
	}
}

func TestCheckResourceRequiredMissingIs400(t *testing.T) {
	stores := fake.New()
	e := NewEvaluator(stores)

	req := httptest.NewRequest("GET", "/", nil)
	_, err := e.CheckResource(context.Background(), testContext(), req, tenantauth.ResourceListing, tenantauth.PermUpdate, "listingId", true)
	if !errors.Is(err, tenantauth.ErrMissingResourceID) {
		t.Fatalf("expected ErrMissingResourceID, got %v", err)
	}
	if tenantauth.StatusFor(err) != 400 {
		t.Errorf("status = %d, want 400", tenantauth.StatusFor(err))
	}
}

func TestCheckResourceOptionalMissingChecksTenantWide(t *testing.T) {
	stores := fake.New(fake.WithGrant(subject, tenantA, tenantauth.ResourceListing, tenantauth.PermRead))
	e := NewEvaluator(stores)

	req := httptest.NewRequest("GET", "/", nil)
	d, err := e.CheckResource(context.Background(), testContext(), req, tenantauth.ResourceListing, tenantauth.PermRead, "listingId", false)
	if err != nil {
		t.Fatalf("CheckResource: %v", err)
	}
	if !d.Granted {
		t.Fatal("expected tenant-wide grant to apply")
	}
	if d.ResourceID != "" {
		t.Errorf("resource id = %q, want empty", d.ResourceID)
	}
}

func TestBodyIsRestoredAfterExtraction(t *testing.T) {
	raw := `{"listingId":"x","title":"Boat"}`
	req := httptest.NewRequest("POST", "/api/v1/listings", strings.NewReader(raw))

	_ = ExtractResourceID(req, "listingId")

	buf := make([]byte, len(raw))
	n, _ := req.Body.Read(buf)
	if string(buf[:n]) != raw {
		t.Errorf("body after extraction = %q, want original", string(buf[:n]))
	}
}

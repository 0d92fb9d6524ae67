package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/service/lifecycle"
	echo "github.com/labstack/echo/v4"
)

type fakeLifecycle struct {
	tenant *model.Tenant
	err    error

	gotReason string
	rearmOK   bool
}

var _ LifecycleService = (*fakeLifecycle)(nil)

func (f *fakeLifecycle) Create(_ context.Context, _, _, _ string) (*model.Tenant, error) {
	return f.tenant, f.err
}

func (f *fakeLifecycle) Disable(_ context.Context, _, reason string) (*model.Tenant, error) {
	f.gotReason = reason
	return f.tenant, f.err
}

func (f *fakeLifecycle) Enable(_ context.Context, _ string) (*model.Tenant, error) {
	return f.tenant, f.err
}

func (f *fakeLifecycle) Delete(_ context.Context, _ string) error {
	return f.err
}

func (f *fakeLifecycle) UpdateNotes(_ context.Context, _, _ string) (*model.Tenant, error) {
	return f.tenant, f.err
}

func (f *fakeLifecycle) RearmEvent(_ context.Context, _ string) (bool, error) {
	return f.rearmOK, f.err
}

func (f *fakeLifecycle) Stats(_ context.Context) (repository.TenantStats, error) {
	return repository.TenantStats{Total: 4, Active: 2, Pending: 1, Disabled: 1}, f.err
}

func demoTenant(status model.TenantStatus) *model.Tenant {
	now := time.Unix(1700000000, 0)
	return &model.Tenant{
		ID:          "01HZXYJ5T8R0000000000000AB",
		OwnerUserID: 1,
		DisplayName: "Acme Inc",
		Subdomain:   "acme",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func do(t *testing.T, h echo.HandlerFunc, method, path, body string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func decodeTenant(t *testing.T, rec *httptest.ResponseRecorder) tenantResp {
	t.Helper()
	var resp tenantResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestCreateTenantReturns201(t *testing.T) {
	svc := &fakeLifecycle{tenant: demoTenant(model.StatusPending)}
	rec := do(t, createTenantHandler(svc), http.MethodPost, "/v1/tenants",
		`{"owner_email":"owner@acme.test","display_name":"Acme Inc"}`, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	resp := decodeTenant(t, rec)
	if resp.Subdomain != "acme" || resp.Status != "pending" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	svc := &fakeLifecycle{tenant: demoTenant(model.StatusPending)}
	cases := []string{
		`{"display_name":"Acme Inc"}`,
		`{"owner_email":"not-an-email","display_name":"Acme Inc"}`,
		`{"owner_email":"owner@acme.test"}`,
	}
	for _, body := range cases {
		rec := do(t, createTenantHandler(svc), http.MethodPost, "/v1/tenants", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCreateTenantDuplicateSubdomain(t *testing.T) {
	svc := &fakeLifecycle{err: fmt.Errorf("insert tenant: %w", repository.ErrDuplicateSubdomain)}
	rec := do(t, createTenantHandler(svc), http.MethodPost, "/v1/tenants",
		`{"owner_email":"owner@acme.test","display_name":"Acme Inc"}`, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "duplicate_subdomain") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestDisableTenantPassesReason(t *testing.T) {
	disabled := demoTenant(model.StatusDisabled)
	at := time.Unix(1700000100, 0)
	disabled.DisabledAt = &at
	disabled.DisabledReason = sql.NullString{String: "payment overdue", Valid: true}

	svc := &fakeLifecycle{tenant: disabled}
	rec := do(t, disableTenantHandler(svc), http.MethodPost, "/v1/tenants/x/disable",
		`{"reason":"  payment overdue  "}`, map[string]string{"id": disabled.ID})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.gotReason != "payment overdue" {
		t.Fatalf("reason = %q, want trimmed", svc.gotReason)
	}
	resp := decodeTenant(t, rec)
	if resp.Status != "disabled" || resp.DisabledReason != "payment overdue" || resp.DisabledAt == nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestEnableIllegalTransitionReturns409(t *testing.T) {
	svc := &fakeLifecycle{err: fmt.Errorf("%w: deleted -> active", model.ErrIllegalTransition)}
	rec := do(t, enableTenantHandler(svc), http.MethodPost, "/v1/tenants/x/enable",
		"", map[string]string{"id": "x"})

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "illegal_transition" || !strings.Contains(resp["description"], "deleted") {
		t.Fatalf("resp = %v", resp)
	}
}

func TestTenantNotFoundReturns404(t *testing.T) {
	svc := &fakeLifecycle{err: lifecycle.ErrTenantNotFound}
	rec := do(t, disableTenantHandler(svc), http.MethodPost, "/v1/tenants/x/disable",
		`{}`, map[string]string{"id": "missing"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteTenantReturnsOK(t *testing.T) {
	svc := &fakeLifecycle{}
	rec := do(t, deleteTenantHandler(svc), http.MethodDelete, "/v1/tenants/x",
		"", map[string]string{"id": "x"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRearmEvent(t *testing.T) {
	rec := do(t, rearmEventHandler(&fakeLifecycle{rearmOK: true}), http.MethodPost,
		"/v1/events/x/rearm", "", map[string]string{"id": "x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = do(t, rearmEventHandler(&fakeLifecycle{rearmOK: false}), http.MethodPost,
		"/v1/events/x/rearm", "", map[string]string{"id": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for non-failed event", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	rec := do(t, statsHandler(&fakeLifecycle{}), http.MethodGet, "/v1/tenants/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp repository.TenantStats
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 4 || resp.Active != 2 {
		t.Fatalf("stats = %+v", resp)
	}
}

package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crmkit/tenant-sync/internal/metrics"
	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/service/lifecycle"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// LifecycleService is what the command handlers need from the lifecycle
// layer; *lifecycle.Service satisfies it.
type LifecycleService interface {
	Create(ctx context.Context, ownerEmail, displayName, subdomain string) (*model.Tenant, error)
	Disable(ctx context.Context, id, reason string) (*model.Tenant, error)
	Enable(ctx context.Context, id string) (*model.Tenant, error)
	Delete(ctx context.Context, id string) error
	UpdateNotes(ctx context.Context, id, notes string) (*model.Tenant, error)
	RearmEvent(ctx context.Context, eventID string) (bool, error)
	Stats(ctx context.Context) (repository.TenantStats, error)
}

type tenantResp struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Subdomain      string     `json:"subdomain"`
	Status         string     `json:"status"`
	ExternalID     string     `json:"external_id,omitempty"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	AdminNotes     string     `json:"admin_notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toTenantResp(t *model.Tenant) tenantResp {
	return tenantResp{
		ID:             t.ID,
		DisplayName:    t.DisplayName,
		Subdomain:      t.Subdomain,
		Status:         t.Status.String(),
		ExternalID:     t.ExternalID.String,
		DisabledAt:     t.DisabledAt,
		DisabledReason: t.DisabledReason.String,
		AdminNotes:     t.AdminNotes.String,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// commandError maps service errors onto stable error kinds so callers
// can tell "already in that state" (success) from genuine conflicts.
func commandError(c echo.Context, op string, err error) error {
	metrics.CommandsTotal.WithLabelValues(op, "error").Inc()

	switch {
	case errors.Is(err, lifecycle.ErrTenantNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "tenant_not_found"})
	case errors.Is(err, repository.ErrDuplicateSubdomain):
		return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate_subdomain"})
	case errors.Is(err, model.ErrIllegalTransition):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":       "illegal_transition",
			"description": err.Error(),
		})
	case errors.Is(err, lifecycle.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": "conflict"})
	}

	log.Errorf("%s failed: %v", op, err)

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
}

type createTenantReq struct {
	OwnerEmail  string `json:"owner_email"`
	DisplayName string `json:"display_name"`
	Subdomain   string `json:"subdomain"`
}

func createTenantHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTenantReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.OwnerEmail = strings.TrimSpace(req.OwnerEmail)
		req.DisplayName = strings.TrimSpace(req.DisplayName)
		if req.OwnerEmail == "" || !strings.Contains(req.OwnerEmail, "@") {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid owner_email"})
		}
		if req.DisplayName == "" && strings.TrimSpace(req.Subdomain) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "display_name or subdomain required"})
		}

		t, err := svc.Create(c.Request().Context(), req.OwnerEmail, req.DisplayName, req.Subdomain)
		if err != nil {
			return commandError(c, "create", err)
		}

		metrics.CommandsTotal.WithLabelValues("create", "ok").Inc()

		return c.JSON(http.StatusCreated, toTenantResp(t))
	}
}

func listTenantsHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c)

		var st model.TenantStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp, ok := model.ParseTenantStatus(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
			st = tmp
		}

		rows, err := tenants.List(c.Request().Context(), st, limit, offset)
		if err != nil {
			log.Errorf("list tenants failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		out := make([]tenantResp, 0, len(rows))
		for i := range rows {
			out = append(out, toTenantResp(&rows[i]))
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(out),
			"results": out,
		})
	}
}

func getTenantHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := tenants.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			log.Errorf("get tenant failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if t == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "tenant_not_found"})
		}
		return c.JSON(http.StatusOK, toTenantResp(t))
	}
}

// getTenantBySubdomainHandler resolves a tenant from its immutable
// subdomain, the identifier data-plane routers actually have on hand.
func getTenantBySubdomainHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		sub := model.NormalizeSubdomain(c.Param("subdomain"))
		t, err := tenants.GetBySubdomain(c.Request().Context(), sub)
		if err != nil {
			log.Errorf("get tenant by subdomain failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if t == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "tenant_not_found"})
		}
		return c.JSON(http.StatusOK, toTenantResp(t))
	}
}

type disableReq struct {
	Reason string `json:"reason"`
}

func disableTenantHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req disableReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		t, err := svc.Disable(c.Request().Context(), c.Param("id"), strings.TrimSpace(req.Reason))
		if err != nil {
			return commandError(c, "disable", err)
		}

		metrics.CommandsTotal.WithLabelValues("disable", "ok").Inc()

		return c.JSON(http.StatusOK, toTenantResp(t))
	}
}

func enableTenantHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := svc.Enable(c.Request().Context(), c.Param("id"))
		if err != nil {
			return commandError(c, "enable", err)
		}

		metrics.CommandsTotal.WithLabelValues("enable", "ok").Inc()

		return c.JSON(http.StatusOK, toTenantResp(t))
	}
}

func deleteTenantHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return commandError(c, "delete", err)
		}

		metrics.CommandsTotal.WithLabelValues("delete", "ok").Inc()

		return c.JSON(http.StatusOK, map[string]any{"deleted": true})
	}
}

type notesReq struct {
	Notes string `json:"notes"`
}

func updateNotesHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req notesReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		t, err := svc.UpdateNotes(c.Request().Context(), c.Param("id"), req.Notes)
		if err != nil {
			return commandError(c, "update_notes", err)
		}

		metrics.CommandsTotal.WithLabelValues("update_notes", "ok").Inc()

		return c.JSON(http.StatusOK, toTenantResp(t))
	}
}

func statsHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := svc.Stats(c.Request().Context())
		if err != nil {
			log.Errorf("stats failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, s)
	}
}

func rearmEventHandler(svc LifecycleService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, err := svc.RearmEvent(c.Request().Context(), c.Param("id"))
		if err != nil {
			return commandError(c, "rearm", err)
		}
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "event_not_found_or_not_failed"})
		}

		metrics.CommandsTotal.WithLabelValues("rearm", "ok").Inc()

		return c.JSON(http.StatusOK, map[string]any{"rearmed": true})
	}
}

type eventResp struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt time.Time  `json:"next_retry_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func listTenantEventsHandler(outbound repository.OutboundRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c)

		rows, err := outbound.ListByTenant(c.Request().Context(), c.Param("id"), limit, offset)
		if err != nil {
			log.Errorf("list tenant events failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		out := make([]eventResp, 0, len(rows))
		for _, ev := range rows {
			out = append(out, eventResp{
				ID:          ev.ID,
				TenantID:    ev.TenantID,
				EventType:   ev.EventType,
				Status:      ev.Status.String(),
				Attempts:    ev.Attempts,
				MaxAttempts: ev.MaxAttempts,
				LastError:   ev.LastError.String,
				NextRetryAt: ev.NextRetryAt,
				SentAt:      ev.SentAt,
				CreatedAt:   ev.CreatedAt,
			})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(out),
			"results": out,
		})
	}
}

func pagination(c echo.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

package http

import (
	"net/http"
	"strings"

	"github.com/crmkit/tenant-sync/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// listDeliveriesHandler serves the delivery-attempt audit trail from
// ClickHouse: every HTTP attempt the deliverer made, successful or not.
func listDeliveriesHandler(attempts repository.AttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c)
		tenantID := strings.TrimSpace(c.QueryParam("tenant_id"))

		rows, err := attempts.ListByTenant(c.Request().Context(), tenantID, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

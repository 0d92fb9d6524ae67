package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// StaticKeyMiddleware authenticates Command API requests using the
// X-API-Key header against a single shared secret. The comparison is
// constant-time, same discipline as the webhook signature check.
func StaticKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "api key not configured"})
			}
			got := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if got == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			return next(c)
		}
	}
}

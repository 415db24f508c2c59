package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const ctxOwnerID = "owner_id"

// OwnerIDFromCtx extracts the owner set by AdminMiddleware.
func OwnerIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxOwnerID).(string)
	return id, ok && id != ""
}

// AdminMiddleware guards the owner-facing API. The upstream user-auth
// system calls it with the shared admin token and names the acting user in
// X-Owner-ID. An empty token disables the group.
func AdminMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			owner := strings.TrimSpace(c.Request().Header.Get("X-Owner-ID"))
			if owner == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing X-Owner-ID"})
			}
			c.Set(ctxOwnerID, owner)
			return next(c)
		}
	}
}

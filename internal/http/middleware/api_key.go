package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	echo "github.com/labstack/echo/v4"
)

const ctxProject = "project"

// Authenticator resolves an API key to an active project.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*model.Project, error)
}

// ProjectFromCtx extracts the project set by APIKeyMiddleware.
func ProjectFromCtx(c echo.Context) (*model.Project, bool) {
	p, ok := c.Get(ctxProject).(*model.Project)
	return p, ok && p != nil
}

// APIKeyMiddleware authenticates requests using the X-API-Key header.
// Unknown, malformed and revoked keys all get the same 401 body.
func APIKeyMiddleware(gate Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			p, err := gate.Authenticate(c.Request().Context(), key)
			if errors.Is(err, model.ErrUnauthorized) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			if err != nil {
				c.Logger().Errorf("auth lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			c.Set(ctxProject, p)
			return next(c)
		}
	}
}

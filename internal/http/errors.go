package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/routing"
	"github.com/jmehdipour/payment-aggregator/internal/service/payment"
	echo "github.com/labstack/echo/v4"
)

// errorJSON maps service errors onto a status and a client-safe body.
// Storage failures are logged and reported generically.
func errorJSON(c echo.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, model.ErrDuplicateProviderName):
		return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate provider name"})
	case errors.Is(err, model.ErrDuplicateKey):
		return c.JSON(http.StatusConflict, map[string]string{"error": "api key conflict, retry"})
	case errors.Is(err, model.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
	case errors.Is(err, payment.ErrOutcomeUnknown):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "payment outcome unknown"})
	case errors.Is(err, routing.ErrAllProvidersExhausted):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "all providers exhausted"})
	default:
		c.Logger().Errorf("request failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

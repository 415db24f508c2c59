package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jmehdipour/payment-aggregator/internal/http/middleware"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/routing"
	"github.com/jmehdipour/payment-aggregator/internal/service/payment"
	echo "github.com/labstack/echo/v4"
)

type paymentReq struct {
	Amount    int64             `json:"amount"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata"`
}

// createPaymentHandler routes inline by default. With ?async=true it only
// enqueues and answers 202; the router worker finishes the payment.
func createPaymentHandler(svc *payment.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := middleware.ProjectFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req paymentReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		intent := model.PaymentIntent{Amount: req.Amount, Reference: req.Reference, Metadata: req.Metadata}

		if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
			id, err := svc.Enqueue(c.Request().Context(), p.ID, intent)
			if err != nil {
				return errorJSON(c, err)
			}
			return c.JSON(http.StatusAccepted, map[string]any{
				"enqueued": true,
				"id":       id,
				"status":   model.PaymentQueued,
			})
		}

		res, err := svc.Charge(c.Request().Context(), p.ID, intent)
		if err != nil && res.Payment != nil {
			return c.JSON(http.StatusBadGateway, map[string]any{
				"error":    chargeError(err),
				"payment":  res.Payment,
				"attempts": res.Attempts,
			})
		}
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// chargeError is the client-safe reason a recorded payment did not succeed.
func chargeError(err error) string {
	switch {
	case errors.Is(err, routing.ErrAllProvidersExhausted):
		return "all providers exhausted"
	case errors.Is(err, payment.ErrOutcomeUnknown):
		return "payment outcome unknown"
	default:
		return "payment failed"
	}
}

func getPaymentHandler(svc *payment.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := middleware.ProjectFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		pay, err := svc.Get(c.Request().Context(), p.ID, c.Param("id"))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, pay)
	}
}

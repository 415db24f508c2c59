package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/payment-aggregator/internal/http/middleware"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listAttemptsHandler(chRepo repository.CHAttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := middleware.ProjectFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit := 50
		offset := 0
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

		var outcome model.AttemptOutcome
		switch o := model.AttemptOutcome(strings.TrimSpace(c.QueryParam("outcome"))); o {
		case model.AttemptSucceeded, model.AttemptFailed:
			outcome = o
		}

		provider := strings.ToLower(strings.TrimSpace(c.QueryParam("provider")))

		attempts, err := chRepo.ListByProject(c.Request().Context(), p.ID, provider, outcome, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(attempts),
			"results": attempts,
		})
	}
}

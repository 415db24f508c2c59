package http

import (
	"net/http"

	"github.com/jmehdipour/payment-aggregator/internal/http/middleware"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/service/project"
	echo "github.com/labstack/echo/v4"
)

type addProviderReq struct {
	ProviderName string            `json:"provider_name"`
	Credentials  map[string]string `json:"credentials"`
	IsPrimary    bool              `json:"is_primary"`
	Priority     int               `json:"priority"`
}

type updateProviderReq struct {
	Priority    *int              `json:"priority"`
	IsPrimary   *bool             `json:"is_primary"`
	Credentials map[string]string `json:"credentials"`
}

// ownedProject resolves :id to a project of the acting owner.
func ownedProject(c echo.Context, svc *project.Service) (*model.Project, error) {
	return svc.GetProject(c.Request().Context(), ownerOf(c), c.Param("id"))
}

func addProviderHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req addProviderReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		p, err := ownedProject(c, svc)
		if err != nil {
			return errorJSON(c, err)
		}

		cfg, err := svc.AddProvider(c.Request().Context(), p.ID, project.ProviderInput{
			ProviderName: req.ProviderName,
			Credentials:  req.Credentials,
			IsPrimary:    req.IsPrimary,
			Priority:     req.Priority,
		})
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusCreated, cfg.Candidate())
	}
}

func updateProviderHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateProviderReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		if req.Priority == nil && req.IsPrimary == nil && req.Credentials == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "nothing to update"})
		}
		p, err := ownedProject(c, svc)
		if err != nil {
			return errorJSON(c, err)
		}

		cfg, err := svc.UpdateProvider(c.Request().Context(), p.ID, c.Param("provider_id"), project.ProviderUpdate{
			Priority:    req.Priority,
			IsPrimary:   req.IsPrimary,
			Credentials: req.Credentials,
		})
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, cfg.Candidate())
	}
}

func removeProviderHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := ownedProject(c, svc)
		if err != nil {
			return errorJSON(c, err)
		}
		if err := svc.RemoveProvider(c.Request().Context(), p.ID, c.Param("provider_id")); err != nil {
			return errorJSON(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listProvidersResponse(c echo.Context, svc *project.Service, projectID string) error {
	list, err := svc.ListProviders(c.Request().Context(), projectID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(list),
		"results": model.Candidates(list),
	})
}

func adminListProvidersHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := ownedProject(c, svc)
		if err != nil {
			return errorJSON(c, err)
		}
		return listProvidersResponse(c, svc, p.ID)
	}
}

// listProvidersHandler serves the authenticated project's routing order.
func listProvidersHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := middleware.ProjectFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return listProvidersResponse(c, svc, p.ID)
	}
}

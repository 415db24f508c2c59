package http

import (
	"net/http"

	"github.com/jmehdipour/payment-aggregator/internal/http/middleware"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/service/project"
	echo "github.com/labstack/echo/v4"
)

type createProjectReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type statusReq struct {
	Status string `json:"status"`
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
}

func ownerOf(c echo.Context) string {
	owner, _ := middleware.OwnerIDFromCtx(c)
	return owner
}

// createProjectHandler returns the API key in the response body; it is not
// retrievable afterwards.
func createProjectHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createProjectReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}

		p, key, err := svc.CreateProject(c.Request().Context(), ownerOf(c), project.CreateProjectInput{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			return errorJSON(c, err)
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"project": p,
			"api_key": key,
		})
	}
}

func listProjectsHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := svc.ListProjects(c.Request().Context(), ownerOf(c))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(list),
			"results": list,
		})
	}
}

func getProjectHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := svc.GetProject(c.Request().Context(), ownerOf(c), c.Param("id"))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func setProjectStatusHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req statusReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		st, ok := model.ParseProjectStatus(req.Status)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}

		p, err := svc.SetStatus(c.Request().Context(), ownerOf(c), c.Param("id"), st)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func deleteProjectHandler(svc *project.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteProject(c.Request().Context(), ownerOf(c), c.Param("id")); err != nil {
			return errorJSON(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

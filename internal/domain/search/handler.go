package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
	"github.com/ehr/cohortbuilder/internal/domain/composition"
	"github.com/ehr/cohortbuilder/internal/domain/criteria"
	"github.com/ehr/cohortbuilder/internal/domain/history"
	"github.com/ehr/cohortbuilder/internal/platform/auth"
	"github.com/ehr/cohortbuilder/internal/platform/openmrs"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAnalyst, auth.RoleCurator))
	read.POST("/searches", h.RunQuery)
	read.POST("/searches/:kind", h.RunCriteria)
	read.POST("/compositions", h.Compose)
	read.POST("/compositions/validate", h.ValidateComposition)
	read.GET("/history/:id/csv", h.DownloadCSV)
	read.POST("/history/:id/export", h.Export)
	read.GET("/cohorts", h.ListCohorts)
	read.GET("/cohorts/:id/members", h.CohortMembers)
	read.GET("/queries", h.ListQueries)
	read.GET("/queries/:id/results", h.QueryResults)

	write := api.Group("", auth.RequireRole(auth.RoleCurator))
	write.POST("/history/:id/cohort", h.SaveCohort)
	write.POST("/history/:id/query", h.SaveQuery)
	write.DELETE("/cohorts/:id", h.DeleteCohort)
	write.DELETE("/queries/:id", h.DeleteQuery)
}

// httpError maps service and upstream errors to HTTP errors.
func httpError(err error) error {
	var apiErr *openmrs.APIError
	switch {
	case errors.Is(err, criteria.ErrUnknownKind):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, criteria.ErrMissingSelection),
		errors.Is(err, criteria.ErrInvalidInput),
		errors.Is(err, criteria.ErrUnsupportedDatatype),
		errors.Is(err, ErrInvalidComposition),
		errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrDescriptionRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, history.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	case errors.Is(err, ErrExportDisabled):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusNotFound, apiErr.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, apiErr.Message)
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

type queryRequest struct {
	Query       cohortquery.Query `json:"query"`
	Description string            `json:"description"`
}

func (h *Handler) RunQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	res, err := h.svc.Run(c.Request().Context(), cohortquery.SearchParams{Query: req.Query}, req.Description)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RunCriteria(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(body) > 0 && !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.RunCriteria(c.Request().Context(), criteria.Kind(c.Param("kind")), body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type compositionRequest struct {
	Expression  string `json:"expression"`
	Description string `json:"description"`
}

func (h *Handler) Compose(c echo.Context) error {
	var req compositionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Compose(c.Request().Context(), req.Expression, req.Description)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ValidateComposition(c echo.Context) error {
	var req compositionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": composition.IsValid(req.Expression)})
}

type saveRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) SaveCohort(c echo.Context) error {
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	def, err := h.svc.SaveCohort(c.Request().Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, def)
}

func (h *Handler) SaveQuery(c echo.Context) error {
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	def, err := h.svc.SaveQuery(c.Request().Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, def)
}

func (h *Handler) DownloadCSV(c echo.Context) error {
	export, err := h.svc.ExportCSV(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.Filename))
	return c.Blob(http.StatusOK, csvContentType, export.Data)
}

func (h *Handler) Export(c echo.Context) error {
	location, err := h.svc.Export(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"location": location})
}

func (h *Handler) ListCohorts(c echo.Context) error {
	defs, err := h.svc.ListCohorts(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, nonNil(defs))
}

func (h *Handler) DeleteCohort(c echo.Context) error {
	if err := h.svc.DeleteCohort(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CohortMembers(c echo.Context) error {
	patients, err := h.svc.CohortMembers(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) ListQueries(c echo.Context) error {
	defs, err := h.svc.ListQueries(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, nonNil(defs))
}

func (h *Handler) DeleteQuery(c echo.Context) error {
	if err := h.svc.DeleteQuery(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) QueryResults(c echo.Context) error {
	patients, err := h.svc.QueryResults(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func nonNil(defs []Definition) []Definition {
	if defs == nil {
		return []Definition{}
	}
	return defs
}

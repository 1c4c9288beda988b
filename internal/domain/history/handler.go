package history

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cohortbuilder/internal/platform/auth"
	"github.com/ehr/cohortbuilder/pkg/pagination"
)

type Handler struct {
	log *Log
}

func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleAnalyst, auth.RoleCurator))
	g.GET("/history", h.ListHistory)
	g.DELETE("/history", h.ClearHistory)
	g.GET("/history/:id", h.GetEntry)
	g.GET("/history/:id/patients", h.ListPatients)
	g.DELETE("/history/:id", h.DeleteEntry)
}

func (h *Handler) ListHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.log.Read(c.Request().Context()))
}

func (h *Handler) GetEntry(c echo.Context) error {
	e, err := h.log.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListPatients(c echo.Context) error {
	e, err := h.log.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	}
	return c.JSON(http.StatusOK, pagination.Page(e.Patients, pagination.FromContext(c)))
}

func (h *Handler) DeleteEntry(c echo.Context) error {
	err := h.log.RemoveOne(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "history entry not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ClearHistory(c echo.Context) error {
	if err := h.log.ClearAll(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

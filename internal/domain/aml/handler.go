package aml

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/admin/aml", h.Dashboard, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if errors.Is(err, db.ErrStoreUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable").SetInternal(err)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build AML dashboard").SetInternal(err)
	}
	return c.JSON(http.StatusOK, d)
}

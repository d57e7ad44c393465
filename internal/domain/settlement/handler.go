package settlement

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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

func (h *Handler) RegisterRoutes(api *echo.Group, e *echo.Echo) {
	admin := auth.RequireRole(auth.RoleAdmin)
	g := api.Group("/settlements", admin)
	g.POST("", h.Settle)
	g.GET("/quote", h.Quote)
	g.GET("/:id", h.Get)
	api.GET("/admin/pools", h.ListPools, admin)

	e.POST("/settle", h.Settle, admin)
}

type settleRequest struct {
	EmergencyID string `json:"emergency_id"`
	// emergencyId is accepted for older clients.
	LegacyEmergencyID string `json:"emergencyId"`
}

func (r settleRequest) id() (uuid.UUID, error) {
	raw := r.EmergencyID
	if raw == "" {
		raw = r.LegacyEmergencyID
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "emergency_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid emergency_id")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrCaseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrCaseNotFound.Error())
	case errors.Is(err, ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrRecordNotFound.Error())
	case errors.Is(err, ErrPoolUnavailable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrPoolUnavailable.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrInsufficientFunds.Error())
	case errors.Is(err, ErrAlreadySettled):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadySettled.Error())
	case errors.Is(err, db.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable").SetInternal(err)
	}
	return err
}

func (h *Handler) Settle(c echo.Context) error {
	var req settleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := req.id()
	if err != nil {
		return err
	}
	rec, err := h.svc.Settle(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Quote(c echo.Context) error {
	id, err := settleRequest{EmergencyID: c.QueryParam("emergency_id")}.id()
	if err != nil {
		return err
	}
	q, err := h.svc.Quote(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListPools(c echo.Context) error {
	pools, err := h.svc.ListPools(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	if pools == nil {
		pools = []*Pool{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pools": pools})
}

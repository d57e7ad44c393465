package emergency

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/platform/db"
	"github.com/medref/medref/pkg/pagination"
)

// FeedServer streams events for one topic over a WebSocket.
type FeedServer interface {
	Serve(c echo.Context, topic string) error
}

type Handler struct {
	svc      *Service
	resolver identity.Resolver
	feed     FeedServer
}

func NewHandler(svc *Service, resolver identity.Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

// WithFeed enables GET /emergency-cases/stream.
func (h *Handler) WithFeed(f FeedServer) *Handler {
	h.feed = f
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/emergency-cases", identity.RequireIdentity(h.resolver, identity.KindDoctor, identity.KindHospitalAdmin))
	g.POST("", h.Create)
	g.GET("/sent", h.ListSent)
	g.GET("/received", h.ListReceived)
	if h.feed != nil {
		g.GET("/stream", h.Stream)
	}
	g.GET("/:id", h.Get)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrConsentRequired), errors.Is(err, ErrSameCountry), errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoHospital):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrCaseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrCaseNotFound.Error())
	case errors.Is(err, db.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable").SetInternal(err)
	}
	return err
}

func caller(c echo.Context) identity.Identity {
	id, _ := identity.FromContext(c.Request().Context())
	return id
}

func (h *Handler) Create(c echo.Context) error {
	var ec Case
	if err := c.Bind(&ec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), caller(c), &ec); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":      "Emergency case created successfully",
		"emergency_id": ec.ID,
		"status":       ec.Status,
		"created_at":   ec.CreatedAt,
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ec, err := h.svc.Get(c.Request().Context(), caller(c), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, ec)
}

func (h *Handler) ListSent(c echo.Context) error {
	pg := pagination.FromContext(c)
	id := caller(c)
	items, total, err := h.svc.ListSent(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Case{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"hospital_ref_code": id.HospitalRefCode,
		"count":             len(items),
		"total":             total,
		"has_more":          pg.HasNext(total),
		"emergencies":       items,
	})
}

func (h *Handler) ListReceived(c echo.Context) error {
	items, err := h.svc.ListReceived(c.Request().Context(), caller(c))
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Case{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":       len(items),
		"emergencies": items,
	})
}

// Stream pushes cases addressed to the caller's hospital as they are created.
func (h *Handler) Stream(c echo.Context) error {
	id := caller(c)
	if !id.HasHospital() {
		return mapError(ErrNoHospital)
	}
	return h.feed.Serve(c, id.HospitalRefCode)
}

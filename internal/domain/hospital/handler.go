package hospital

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/db"
	"github.com/medref/medref/pkg/pagination"
)

type Handler struct {
	svc       *Service
	allocator *Allocator
	resolver  identity.Resolver
}

func NewHandler(svc *Service, allocator *Allocator, resolver identity.Resolver) *Handler {
	return &Handler{svc: svc, allocator: allocator, resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group, e *echo.Echo) {
	// Public self-registration
	api.POST("/hospitals/register", h.Register)

	// Review endpoints – platform admin
	admin := api.Group("/admin/hospital-requests", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.ListRequests)
	admin.GET("/pending", h.ListPending)
	admin.GET("/:id", h.GetRequest)
	admin.POST("/:id/approve", h.Approve)
	admin.POST("/:id/reject", h.Reject)

	e.POST("/approve/:id", h.Approve, auth.RequireRole(auth.RoleAdmin))
	e.POST("/reject/:id", h.Reject, auth.RequireRole(auth.RoleAdmin))

	// Settlement account – the hospital's own admin
	me := api.Group("/hospitals/me", identity.RequireIdentity(h.resolver, identity.KindHospitalAdmin))
	me.POST("/settlement-account", h.AddSettlementAccount)
	me.PUT("/settlement-account", h.UpdateSettlementAccount)
}

// mapError translates domain errors to HTTP errors. Anything unrecognised is
// returned as is and rendered as a 500.
func mapError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, db.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable").SetInternal(err)
	case errors.Is(err, ErrNotFoundOrAlreadyProcessed),
		errors.Is(err, ErrHospitalNotFound),
		errors.Is(err, ErrAccountNotFound):
		return echo.NewHTTPError(http.StatusNotFound, rootMessage(err))
	case errors.Is(err, ErrAllocationExhausted), errors.Is(err, ErrAccountExists):
		return echo.NewHTTPError(http.StatusConflict, rootMessage(err))
	case errors.Is(err, ErrAccountVerified):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrCertificateRequired), errors.Is(err, ErrPendingEmail),
		errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrPendingRegistrationNumber),
		errors.Is(err, ErrPhoneRegistered), errors.Is(err, ErrConsentRequired),
		errors.Is(err, ErrNoFieldsToUpdate), errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

// rootMessage drops wrapping context so clients see the sentinel text.
func rootMessage(err error) string {
	for _, s := range []error{ErrNotFoundOrAlreadyProcessed, ErrHospitalNotFound, ErrAccountNotFound,
		ErrAllocationExhausted, ErrAccountExists} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func reviewer(c echo.Context) (string, error) {
	id := auth.UserIDFromContext(c.Request().Context())
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

// -- Registration --

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handler) Register(c echo.Context) error {
	consent, _ := strconv.ParseBool(c.FormValue("consent_given"))
	req := &Request{
		HospitalName:       strings.TrimSpace(c.FormValue("hospital_name")),
		HospitalType:       c.FormValue("hospital_type"),
		OwnershipType:      c.FormValue("ownership_type"),
		Country:            c.FormValue("country"),
		State:              c.FormValue("state"),
		City:               strings.TrimSpace(c.FormValue("city")),
		PostalCode:         optional(c.FormValue("postal_code")),
		Address:            c.FormValue("address"),
		OfficialEmail:      c.FormValue("official_email"),
		OfficialPhone:      strings.TrimSpace(c.FormValue("official_phone")),
		Website:            optional(c.FormValue("website")),
		RegistrationNumber: strings.TrimSpace(c.FormValue("registration_number")),
		AdminName:          c.FormValue("admin_name"),
		AdminContact:       c.FormValue("admin_contact"),
		ConsentGiven:       consent,
	}

	var cert *Certificate
	fh, err := c.FormFile("registration_certificate")
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable certificate upload")
		}
		defer f.Close()
		cert = &Certificate{ContentType: fh.Header.Get(echo.HeaderContentType), Size: fh.Size, Body: f}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return mapError(err)
	}

	created, err := h.svc.Register(c.Request().Context(), req, cert)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":    "Hospital registration request submitted",
		"request_id": created.ID,
	})
}

// -- Review --

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRequests(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	if items == nil {
		items = []*Request{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPending(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPending(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	reviewerID, err := reviewer(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if rid, ok := c.Get("request_id").(string); ok {
		ctx = WithRequestID(ctx, rid)
	}
	hosp, err := h.allocator.Approve(ctx, id, reviewerID)
	if errors.Is(err, ErrAlreadyRegistered) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "Hospital approved successfully",
		"hospital": hosp,
	})
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	reviewerID, err := reviewer(c)
	if err != nil {
		return err
	}
	if err := h.allocator.Reject(c.Request().Context(), id, reviewerID); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Hospital request rejected successfully"})
}

// -- Settlement accounts --

func (h *Handler) AddSettlementAccount(c echo.Context) error {
	var a SettlementAccount
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.AddSettlementAccount(c.Request().Context(), userID, &a); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":             "Settlement account submitted successfully",
		"account_id":          a.ID,
		"verification_status": a.VerificationStatus,
		"created_at":          a.CreatedAt,
	})
}

func (h *Handler) UpdateSettlementAccount(c echo.Context) error {
	var patch AccountPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.UpdateSettlementAccount(c.Request().Context(), userID, patch)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":             "Settlement account updated successfully",
		"account_id":          a.ID,
		"verification_status": a.VerificationStatus,
		"updated_at":          a.UpdatedAt,
	})
}

package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/authprovider"
	"github.com/medref/medref/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.GET("/me", h.Me)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type loginResponse struct {
	Message      string    `json:"message"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	User         loginUser `json:"user"`
	Identity     Identity  `json:"identity"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrCredentialsRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, authprovider.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, authprovider.ErrNotConfigured), errors.Is(err, db.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "login unavailable").SetInternal(err)
	default:
		return err
	}

	return c.JSON(http.StatusOK, loginResponse{
		Message:      "Login successful",
		AccessToken:  res.Session.AccessToken,
		RefreshToken: res.Session.RefreshToken,
		ExpiresIn:    res.Session.ExpiresIn,
		User:         loginUser{ID: res.Session.User.ID, Email: res.Session.User.Email},
		Identity:     res.Identity,
	})
}

type meResponse struct {
	UserID   string   `json:"user_id"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
	Identity Identity `json:"identity"`
}

// Me reports the caller's resolved identity; unrecognized users get a 200
// with type UNRECOGNIZED so clients can route them to onboarding.
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	id, err := h.svc.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "identity store unavailable").SetInternal(err)
		}
		return err
	}

	roles := auth.RolesFromContext(ctx)
	if roles == nil {
		roles = []string{}
	}
	return c.JSON(http.StatusOK, meResponse{
		UserID:   userID,
		Email:    auth.EmailFromContext(ctx),
		Roles:    roles,
		Identity: id,
	})
}

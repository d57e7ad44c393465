package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/db"
)

type contextKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity resolved for this request, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// RequireIdentity resolves the authenticated user and admits only the given
// kinds. An unrecognized user gets 403 "user role not registered".
func RequireIdentity(r Resolver, kinds ...Kind) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			id, ok := FromContext(ctx)
			if !ok {
				userID := auth.UserIDFromContext(ctx)
				if userID == "" {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
				var err error
				id, err = r.Resolve(ctx, userID)
				if err != nil {
					if errors.Is(err, db.ErrStoreUnavailable) {
						return echo.NewHTTPError(http.StatusServiceUnavailable, "identity store unavailable").SetInternal(err)
					}
					return echo.NewHTTPError(http.StatusInternalServerError, "identity resolution failed").SetInternal(err)
				}
				c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			}

			if id.Kind == KindUnrecognized {
				return echo.NewHTTPError(http.StatusForbidden, ErrUnrecognized.Error())
			}
			if len(kinds) > 0 && !id.Is(kinds...) {
				return echo.NewHTTPError(http.StatusForbidden, "not permitted for "+string(id.Kind))
			}
			return next(c)
		}
	}
}

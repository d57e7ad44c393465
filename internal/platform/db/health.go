package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Check is one dependency pinged by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// PoolCheck pings the database pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{Name: "database", Ping: pool.Ping}
}

// HealthHandler runs every check with a shared 5s budget. Any failure turns
// the response into 503 with the failing component named.
func HealthHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		components := make(map[string]string, len(checks))
		healthy := true
		for _, chk := range checks {
			if err := chk.Ping(ctx); err != nil {
				components[chk.Name] = "unhealthy: " + err.Error()
				healthy = false
				continue
			}
			components[chk.Name] = "healthy"
		}

		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":     "unhealthy",
				"components": components,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "healthy",
			"components": components,
		})
	}
}

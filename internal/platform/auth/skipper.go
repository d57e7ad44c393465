package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths reachable without a bearer token: health and
// banner, hospital self-registration, login, and signed certificate links
// (the link token is verified by the file handler).
var publicPaths = map[string]bool{
	"/":                          true,
	"/health":                    true,
	"/api/v1/hospitals/register": true,
	"/api/v1/auth/login":         true,
	"/files/certificates":        true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

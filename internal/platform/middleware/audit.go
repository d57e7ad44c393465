package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/auth"
)

// AuditEntry captures who changed what, when and with which outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	TargetID   string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit emits one structured "audit" log line for every state-changing
// request under /api/v1/ and the bare workflow endpoints. Reads are not
// audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutating(req.Method) || !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c, err)
			evt := logger.Info()
			if entry.StatusCode >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("target_id", entry.TargetID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("state_change")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	ctx := req.Context()

	status := c.Response().Status
	if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
		status = he.Code
	} else if err != nil && !c.Response().Committed {
		status = http.StatusInternalServerError
	}

	rid, _ := c.Get("request_id").(string)
	resource, action := classifyPath(req.URL.Path, req.Method)

	return AuditEntry{
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Resource:   resource,
		TargetID:   c.Param("id"),
		Action:     action,
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		RequestID:  rid,
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") ||
		strings.HasPrefix(path, "/approve/") ||
		strings.HasPrefix(path, "/reject/") ||
		path == "/settle"
}

// classifyPath derives the resource and action from the request path.
//
//	/api/v1/admin/hospital-requests/{id}/approve -> hospital-requests, approve
//	/approve/{id}                                -> hospital-requests, approve
//	/settle                                      -> settlements, settle
//	/api/v1/emergency-cases                      -> emergency-cases, create
func classifyPath(path, method string) (resource, action string) {
	switch {
	case strings.HasPrefix(path, "/approve/"):
		return "hospital-requests", "approve"
	case strings.HasPrefix(path, "/reject/"):
		return "hospital-requests", "reject"
	case path == "/settle":
		return "settlements", "settle"
	}

	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) > 0 && segments[0] == "admin" {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", methodToAction(method)
	}

	last := segments[len(segments)-1]
	if last == "approve" || last == "reject" {
		return segments[0], last
	}
	return segments[0], methodToAction(method)
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

package blobstore

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
)

// Handler serves objects behind signed links. The token is the only
// credential, so the route is mounted outside bearer auth.
type Handler struct {
	store  Store
	signer *URLSigner
}

func NewHandler(store Store, signer *URLSigner) *Handler {
	return &Handler{store: store, signer: signer}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET(DownloadPath, h.Download)
}

func (h *Handler) Download(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	key, err := h.signer.Verify(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	rc, obj, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return err
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, path.Base(obj.Key)))
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

package configsync

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ohcnetwork/care-sub000/internal/domain/asset"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
)

// AssetReader loads an asset the caller may see.
type AssetReader interface {
	GetAsset(ctx context.Context, caller auth.Caller, id uuid.UUID) (*asset.Asset, error)
}

type Handler struct {
	assets AssetReader
	engine *Engine
}

func NewHandler(assets AssetReader, engine *Engine) *Handler {
	return &Handler{assets: assets, engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/asset/:id/sync", h.Status)
}

type statusResponse struct {
	AssetID            uuid.UUID `json:"asset_id"`
	MiddlewareHostname string    `json:"middleware_hostname"`
	Last               *Result   `json:"last"`
}

// Status reports the last sync result of an asset. last is null when the
// asset has not been synced since the process started.
func (h *Handler) Status(c echo.Context) error {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.NotFound("asset")
	}
	a, err := h.assets.GetAsset(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	resp := statusResponse{AssetID: a.ID, MiddlewareHostname: a.ResolvedMiddlewareHostname}
	if r, ok := h.engine.Last(a.ID); ok {
		resp.Last = r
	}
	return c.JSON(http.StatusOK, resp)
}

package availability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ohcnetwork/care-sub000/internal/domain/asset"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
	"github.com/ohcnetwork/care-sub000/pkg/pagination"
)

// Subjects resolves the asset or location a caller asks about, enforcing
// facility scope.
type Subjects interface {
	GetAsset(ctx context.Context, caller auth.Caller, id uuid.UUID) (*asset.Asset, error)
	GetLocation(ctx context.Context, caller auth.Caller, id uuid.UUID) (*asset.AssetLocation, error)
}

type Handler struct {
	records  Repository
	subjects Subjects
}

func NewHandler(records Repository, subjects Subjects) *Handler {
	return &Handler{records: records, subjects: subjects}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/asset/:id/availability", h.ListAsset)
	api.GET("/asset_location/:id/availability", h.ListLocation)
}

func (h *Handler) ListAsset(c echo.Context) error {
	return h.list(c, KindAsset, func(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
		_, err := h.subjects.GetAsset(ctx, caller, id)
		return err
	})
}

func (h *Handler) ListLocation(c echo.Context) error {
	return h.list(c, KindLocation, func(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
		_, err := h.subjects.GetLocation(ctx, caller, id)
		return err
	})
}

func (h *Handler) list(c echo.Context, kind Kind, check func(context.Context, auth.Caller, uuid.UUID) error) error {
	ctx := c.Request().Context()
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.NotFound(string(kind))
	}
	if err := check(ctx, caller, id); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.records.List(ctx, kind, id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

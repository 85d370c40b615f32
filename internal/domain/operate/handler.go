package operate

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/asset/:id/operate", h.Operate)
}

func (h *Handler) Operate(c echo.Context) error {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.NotFound("asset")
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("body", "invalid", "request body is not valid JSON")
	}
	out, err := h.svc.Operate(c.Request().Context(), caller, id, req)
	if err != nil {
		return err
	}
	return c.JSON(out.Status, out.Body)
}

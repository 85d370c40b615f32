package asset

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
	"github.com/ohcnetwork/care-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/facility/:facility_id/asset_location", h.ListLocations)
	api.POST("/facility/:facility_id/asset_location", h.CreateLocation)
	api.GET("/facility/:facility_id/asset_location/:id", h.GetLocation)
	api.PATCH("/facility/:facility_id/asset_location/:id", h.UpdateLocation)
	api.DELETE("/facility/:facility_id/asset_location/:id", h.DeleteLocation)

	api.GET("/asset", h.ListAssets)
	api.POST("/asset", h.CreateAsset)
	api.GET("/asset/qr/:qr_code_id", h.GetAssetByQR)
	api.GET("/asset/:id", h.GetAsset)
	api.PATCH("/asset/:id", h.UpdateAsset)
	api.DELETE("/asset/:id", h.DeleteAsset)
	api.GET("/asset/:id/transactions", h.ListTransactions)

	api.GET("/bed", h.ListBeds)
	api.POST("/bed", h.CreateBed)
	api.GET("/bed/:id", h.GetBed)
	api.PATCH("/bed/:id", h.UpdateBed)
	api.DELETE("/bed/:id", h.DeleteBed)

	api.GET("/assetbed", h.ListAssetBeds)
	api.POST("/assetbed", h.LinkAssetBed)
	api.GET("/assetbed/:id", h.GetAssetBed)
	api.PATCH("/assetbed/:id", h.UpdateAssetBed)
	api.DELETE("/assetbed/:id", h.UnlinkAssetBed)

	api.GET("/assetbed/:assetbed_id/camera_presets", h.ListPresets)
	api.POST("/assetbed/:assetbed_id/camera_presets", h.CreatePreset)
	api.GET("/assetbed/:assetbed_id/camera_presets/:id", h.GetPreset)
	api.DELETE("/assetbed/:assetbed_id/camera_presets/:id", h.DeletePreset)
}

// RegisterConfigRoutes mounts the config pull on a group rooted at
// /asset_config, behind authn, which authenticates the calling middleware.
func (h *Handler) RegisterConfigRoutes(g *echo.Group, authn echo.MiddlewareFunc) {
	g.GET("", h.AssetConfig, authn)
	g.GET("/", h.AssetConfig, authn)
}

// ConfigHost extracts and normalises the middleware_hostname query
// parameter of a config pull.
func ConfigHost(c echo.Context) (string, error) {
	raw := c.QueryParam("middleware_hostname")
	if raw == "" {
		return "", apperr.Invalid("middleware_hostname", "required", "middleware_hostname is required")
	}
	host, err := gateway.NormalizeHost(raw)
	if err != nil {
		return "", apperr.Invalid("middleware_hostname", "invalid", err.Error())
	}
	return host, nil
}

func callerOf(c echo.Context) (auth.Caller, error) {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return auth.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return caller, nil
}

func pathID(c echo.Context, name, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.NotFound(what)
	}
	return id, nil
}

func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Invalid(name, "invalid", "must be a valid UUID")
	}
	return &id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Invalid("body", "invalid", "request body is not valid JSON for this resource")
	}
	return nil
}

// -- AssetLocation --

func (h *Handler) CreateLocation(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	facilityID, err := pathID(c, "facility_id", "facility")
	if err != nil {
		return err
	}
	var in LocationInput
	if err := bind(c, &in); err != nil {
		return err
	}
	l, err := h.svc.CreateLocation(c.Request().Context(), caller, facilityID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLocations(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	facilityID, err := pathID(c, "facility_id", "facility")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLocations(c.Request().Context(), caller, facilityID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

// locationInFacility loads the location and checks it belongs to the
// facility named in the path.
func (h *Handler) locationInFacility(c echo.Context, caller auth.Caller) (*AssetLocation, error) {
	facilityID, err := pathID(c, "facility_id", "facility")
	if err != nil {
		return nil, err
	}
	id, err := pathID(c, "id", "asset location")
	if err != nil {
		return nil, err
	}
	l, err := h.svc.GetLocation(c.Request().Context(), caller, id)
	if err != nil {
		return nil, err
	}
	if l.FacilityID != facilityID {
		return nil, apperr.NotFound("asset location")
	}
	return l, nil
}

func (h *Handler) GetLocation(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	l, err := h.locationInFacility(c, caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) UpdateLocation(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	l, err := h.locationInFacility(c, caller)
	if err != nil {
		return err
	}
	var in LocationInput
	if err := bind(c, &in); err != nil {
		return err
	}
	updated, err := h.svc.UpdateLocation(c.Request().Context(), caller, l.ID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteLocation(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	l, err := h.locationInFacility(c, caller)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLocation(c.Request().Context(), caller, l.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Asset --

func (h *Handler) CreateAsset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var in AssetInput
	if err := bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.CreateAsset(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAsset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAsset(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAssetByQR(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssetByQR(c.Request().Context(), caller, c.Param("qr_code_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func assetFilter(c echo.Context) (AssetFilter, error) {
	var f AssetFilter
	var err error
	if f.FacilityID, err = queryID(c, "facility"); err != nil {
		return f, err
	}
	if f.LocationID, err = queryID(c, "location"); err != nil {
		return f, err
	}
	if v := c.QueryParam("asset_class"); v != "" {
		class, err := devices.ParseClass(v)
		if err != nil {
			return f, apperr.Invalid("asset_class", "invalid", err.Error())
		}
		f.AssetClass = &class
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return f, apperr.Invalid("status", "invalid", "unknown asset status")
		}
		f.Status = &st
	}
	if v := c.QueryParam("is_working"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperr.Invalid("is_working", "invalid", "must be true or false")
		}
		f.IsWorking = &b
	}
	f.Search = c.QueryParam("search")
	return f, nil
}

func (h *Handler) ListAssets(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	f, err := assetFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset
	items, total, err := h.svc.ListAssets(c.Request().Context(), caller, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) UpdateAsset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset")
	if err != nil {
		return err
	}
	var in AssetInput
	if err := bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.UpdateAsset(c.Request().Context(), caller, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAsset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAsset(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransactions(c.Request().Context(), caller, id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

// -- Bed --

func (h *Handler) CreateBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var in BedInput
	if err := bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.CreateBed(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "bed")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBed(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "bed")
	if err != nil {
		return err
	}
	var in BedInput
	if err := bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.UpdateBed(c.Request().Context(), caller, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var f BedFilter
	if f.FacilityID, err = queryID(c, "facility"); err != nil {
		return err
	}
	if f.LocationID, err = queryID(c, "location"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset
	items, total, err := h.svc.ListBeds(c.Request().Context(), caller, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) DeleteBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "bed")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBed(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- AssetBed --

func (h *Handler) LinkAssetBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var in AssetBedInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ab, err := h.svc.LinkAssetToBed(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ab)
}

func (h *Handler) GetAssetBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset bed")
	if err != nil {
		return err
	}
	ab, err := h.svc.GetAssetBed(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ab)
}

func (h *Handler) UpdateAssetBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset bed")
	if err != nil {
		return err
	}
	var in AssetBedInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ab, err := h.svc.UpdateAssetBedMeta(c.Request().Context(), caller, id, in.Meta)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ab)
}

func (h *Handler) ListAssetBeds(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var f AssetBedFilter
	if f.AssetID, err = queryID(c, "asset"); err != nil {
		return err
	}
	if f.BedID, err = queryID(c, "bed"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset
	items, total, err := h.svc.ListAssetBeds(c.Request().Context(), caller, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) UnlinkAssetBed(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "asset bed")
	if err != nil {
		return err
	}
	if err := h.svc.UnlinkAssetBed(c.Request().Context(), caller, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- CameraPreset --

func (h *Handler) CreatePreset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	abID, err := pathID(c, "assetbed_id", "asset bed")
	if err != nil {
		return err
	}
	var in PresetInput
	if err := bind(c, &in); err != nil {
		return err
	}
	p, err := h.svc.CreatePreset(c.Request().Context(), caller, abID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPresets(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	abID, err := pathID(c, "assetbed_id", "asset bed")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPresets(c.Request().Context(), caller, abID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPreset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	abID, err := pathID(c, "assetbed_id", "asset bed")
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "camera preset")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPreset(c.Request().Context(), caller, abID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePreset(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	abID, err := pathID(c, "assetbed_id", "asset bed")
	if err != nil {
		return err
	}
	id, err := pathID(c, "id", "camera preset")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePreset(c.Request().Context(), caller, abID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Config pull --

func (h *Handler) AssetConfig(c echo.Context) error {
	host, err := ConfigHost(c)
	if err != nil {
		return err
	}
	facilityID, ok := auth.MiddlewareFacilityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "middleware authentication required")
	}
	items, err := h.svc.AssetConfig(c.Request().Context(), facilityID, host)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

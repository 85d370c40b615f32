// Package operate forwards operator commands to the middleware that manages
// a device and translates its answer.
package operate

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ohcnetwork/care-sub000/internal/domain/asset"
	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

// Assets is what the action plane reads from the asset store.
type Assets interface {
	GetAsset(ctx context.Context, caller auth.Caller, id uuid.UUID) (*asset.Asset, error)
	GetAssetBed(ctx context.Context, caller auth.Caller, id uuid.UUID) (*asset.AssetBed, error)
	Boundaries(ctx context.Context, assetID uuid.UUID) (map[uuid.UUID]asset.Boundary, error)
}

type Request struct {
	Action     devices.Action `json:"action"`
	AssetBedID *uuid.UUID     `json:"asset_bed_id"`
}

// Outcome is the HTTP status and body returned to the operator.
type Outcome struct {
	Status int
	Body   interface{}
}

type Service struct {
	assets Assets
	caller gateway.Caller
	logger zerolog.Logger
}

func NewService(assets Assets, caller gateway.Caller, logger zerolog.Logger) *Service {
	return &Service{assets: assets, caller: caller, logger: logger.With().Str("component", "operate").Logger()}
}

// Operate runs one action against the asset's device. Validation failures
// are returned as errors before any middleware call; upstream failures are
// returned as an Outcome.
func (s *Service) Operate(ctx context.Context, caller auth.Caller, assetID uuid.UUID, req Request) (*Outcome, error) {
	if req.Action.Type == "" {
		return nil, apperr.Invalid("action", "required", "action.type is required")
	}
	a, err := s.assets.GetAsset(ctx, caller, assetID)
	if err != nil {
		return nil, err
	}
	if a.AssetClass == nil {
		return nil, apperr.Invalid("asset_class", "invalid", "asset has no device class")
	}

	d, err := devices.New(a.Class(), a.DeviceConfig(), s.caller)
	if err != nil {
		return nil, err
	}
	if err := s.checkBoundary(ctx, caller, a, req); err != nil {
		return nil, err
	}

	resp, err := d.Handle(ctx, req.Action)
	if err != nil {
		return nil, err
	}
	out := translate(resp)
	if out.Status != http.StatusOK {
		s.logger.Warn().
			Str("asset", a.ID.String()).
			Str("host", d.MiddlewareHostname()).
			Str("action", req.Action.Type).
			Int("upstream_status", resp.StatusCode).
			Str("error", resp.Error).
			Msg("middleware action failed")
	}
	return out, nil
}

// translate maps a middleware response to the operator response: 2xx is
// wrapped in {result}, 4xx is passed through, everything else is a 502.
func translate(resp *gateway.Response) *Outcome {
	switch {
	case resp.OK():
		return &Outcome{Status: http.StatusOK, Body: map[string]json.RawMessage{"result": resp.Payload()}}
	case resp.Error == "" && resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &Outcome{Status: resp.StatusCode, Body: resp.Payload()}
	}
	reason := resp.Error
	if reason == "" {
		reason = "middleware returned " + http.StatusText(resp.StatusCode)
	}
	return &Outcome{Status: http.StatusBadGateway, Body: map[string]interface{}{
		"error":       reason,
		"status_code": resp.StatusCode,
	}}
}

// checkBoundary rejects PTZ moves whose target leaves the bed boundary.
// With asset_bed_id the boundary of that link applies; otherwise the target
// must lie inside at least one boundary of the asset's links. Links without
// a boundary do not constrain.
func (s *Service) checkBoundary(ctx context.Context, caller auth.Caller, a *asset.Asset, req Request) error {
	relative := req.Action.Type == devices.ActionRelativeMove
	if a.Class() != devices.Camera || (!relative && req.Action.Type != devices.ActionAbsoluteMove) {
		return nil
	}
	move, err := devices.ParseMove(req.Action.Data, relative)
	if err != nil {
		return err
	}

	bounds, err := s.assets.Boundaries(ctx, a.ID)
	if err != nil {
		return err
	}
	var applicable []asset.Boundary
	if req.AssetBedID != nil {
		link, err := s.assets.GetAssetBed(ctx, caller, *req.AssetBedID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return apperr.Invalid("asset_bed_id", "does_not_exist", "asset bed does not exist")
			}
			return err
		}
		if link.AssetID != a.ID {
			return apperr.Invalid("asset_bed_id", "invalid", "asset bed does not belong to this asset")
		}
		if b, ok := bounds[link.ID]; ok {
			applicable = append(applicable, b)
		}
	} else {
		for _, b := range bounds {
			applicable = append(applicable, b)
		}
	}
	if len(applicable) == 0 {
		return nil
	}

	x, y := move.X, move.Y
	if relative {
		state, _ := req.Action.Data["camera_state"].(map[string]interface{})
		cx, okX := devices.Float(state, "x")
		cy, okY := devices.Float(state, "y")
		if !okX || !okY {
			return apperr.Invalid("action", "invalid", "camera_state {x, y} is required for a bounded relative move")
		}
		x, y = cx+move.X, cy+move.Y
	}
	for _, b := range applicable {
		if b.Contains(x, y) {
			return nil
		}
	}
	return apperr.Invalid("action", "invalid", "target position is outside the bed boundary")
}

package devices

import (
	"context"
	"net/http"

	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

const ActionGetVitals = "get_vitals"

var vitalsActions = []string{ActionGetVitals, ActionGetStreamToken}

// vitals is an HL7 monitor or ventilator; both expose the same middleware
// surface and differ only in class.
type vitals struct {
	base
	class Class
}

func newVitals(class Class) Factory {
	return func(cfg Config, caller gateway.Caller) (Device, error) {
		fields := apperr.Fields{}
		v := &vitals{base: newBase(cfg, caller, fields), class: class}
		if err := fields.Err(); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (v *vitals) Class() Class { return v.class }

func (v *vitals) Handle(ctx context.Context, a Action) (*gateway.Response, error) {
	switch a.Type {
	case ActionGetVitals:
		return v.call(ctx, http.MethodGet, "vitals", map[string]string{"device_id": v.ip}), nil
	case ActionGetStreamToken:
		return v.call(ctx, http.MethodPost, "api/vitals/stream/getToken", map[string]interface{}{
			"asset_id": v.assetID.String(),
			"ip":       v.ip,
		}), nil
	}
	return nil, invalidAction(a, vitalsActions)
}

package devices

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

// Camera actions.
const (
	ActionGetStatus      = "get_status"
	ActionGetPresets     = "get_presets"
	ActionGotoPreset     = "goto_preset"
	ActionAbsoluteMove   = "absolute_move"
	ActionRelativeMove   = "relative_move"
	ActionGetStreamToken = "get_stream_token"
)

var cameraActions = []string{
	ActionGetStatus, ActionGetPresets, ActionGotoPreset,
	ActionAbsoluteMove, ActionRelativeMove, ActionGetStreamToken,
}

const defaultCameraPort = 80

// camera is an ONVIF camera reached through the middleware.
type camera struct {
	base
	port      int
	username  string
	password  string
	accessKey string
}

func newCamera(cfg Config, caller gateway.Caller) (Device, error) {
	fields := apperr.Fields{}
	c := &camera{base: newBase(cfg, caller, fields), port: defaultCameraPort}

	parts := strings.SplitN(MetaString(cfg.Meta, MetaCameraAccessKey), ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		fields.Add(MetaCameraAccessKey, "invalid", "camera_access_key must be username:password:stream_key")
	} else {
		c.username, c.password, c.accessKey = parts[0], parts[1], parts[2]
	}

	switch p := cfg.Meta[MetaCameraPort].(type) {
	case nil:
	case float64:
		c.port = int(p)
	case string:
		n, err := strconv.Atoi(p)
		if err != nil {
			fields.Add(MetaCameraPort, "invalid", "camera_port must be a number")
		}
		c.port = n
	default:
		fields.Add(MetaCameraPort, "invalid", "camera_port must be a number")
	}

	if err := fields.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *camera) Class() Class { return Camera }

func (c *camera) credentials() map[string]interface{} {
	return map[string]interface{}{
		"hostname": c.ip,
		"port":     c.port,
		"username": c.username,
		"password": c.password,
	}
}

// payload merges the device credentials with the action data. Credentials
// win over same-named data keys.
func (c *camera) payload(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+5)
	for k, v := range data {
		out[k] = v
	}
	for k, v := range c.credentials() {
		out[k] = v
	}
	out["accessKey"] = c.accessKey
	return out
}

func (c *camera) Handle(ctx context.Context, a Action) (*gateway.Response, error) {
	switch a.Type {
	case ActionGetStatus:
		return c.call(ctx, http.MethodGet, "status", c.payload(nil)), nil
	case ActionGetPresets:
		return c.call(ctx, http.MethodGet, "presets", c.payload(nil)), nil
	case ActionGotoPreset:
		preset, ok := Float(a.Data, "preset")
		if !ok {
			return nil, apperr.Invalid("data", "invalid", "preset must be a number")
		}
		return c.call(ctx, http.MethodPost, "gotoPreset", c.payload(map[string]interface{}{"preset": int(preset)})), nil
	case ActionAbsoluteMove, ActionRelativeMove:
		move, err := ParseMove(a.Data, a.Type == ActionRelativeMove)
		if err != nil {
			return nil, err
		}
		path := "absoluteMove"
		if a.Type == ActionRelativeMove {
			path = "relativeMove"
		}
		return c.call(ctx, http.MethodPost, path, c.payload(move.Payload())), nil
	case ActionGetStreamToken:
		return c.call(ctx, http.MethodPost, "api/stream/getToken/videoFeed",
			map[string]interface{}{"stream_id": c.accessKey}), nil
	}
	return nil, invalidAction(a, cameraActions)
}

// Move is a PTZ target or delta.
type Move struct {
	X, Y, Zoom float64
}

func (m Move) Payload() map[string]interface{} {
	return map[string]interface{}{"x": m.X, "y": m.Y, "zoom": m.Zoom}
}

// ParseMove reads {x, y, zoom} from action data. zoom may be omitted for a
// relative move.
func ParseMove(data map[string]interface{}, relative bool) (Move, error) {
	fields := apperr.Fields{}
	var m Move
	var ok bool
	if m.X, ok = Float(data, "x"); !ok {
		fields.Add("x", "invalid", "x must be a finite number")
	}
	if m.Y, ok = Float(data, "y"); !ok {
		fields.Add("y", "invalid", "y must be a finite number")
	}
	if _, present := data["zoom"]; present || !relative {
		if m.Zoom, ok = Float(data, "zoom"); !ok {
			fields.Add("zoom", "invalid", "zoom must be a finite number")
		}
	}
	if err := fields.Err(); err != nil {
		return Move{}, err
	}
	return m, nil
}

// legacyStatusEntry is the element of the POST /cameras/status body.
func (c *camera) legacyStatusEntry() map[string]interface{} {
	return c.credentials()
}

func (c *camera) String() string {
	return fmt.Sprintf("camera %s@%s", c.ip, c.middleware)
}

// Package devices translates operator actions on device assets into calls
// against the middleware host that manages them.
package devices

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

// Class is the device kind of an asset.
type Class string

const (
	Camera        Class = "CAMERA"
	VitalsMonitor Class = "VITALS_MONITOR"
	Ventilator    Class = "VENTILATOR"
)

// Meta keys read from an asset's meta map.
const (
	MetaLocalIP            = "local_ip_address"
	MetaMiddlewareHostname = "middleware_hostname"
	MetaCameraAccessKey    = "camera_access_key"
	MetaCameraPort         = "camera_port"
)

func ParseClass(s string) (Class, error) {
	c := Class(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := registry[c]; !ok {
		return "", fmt.Errorf("unknown asset class %q", s)
	}
	return c, nil
}

// Linkable reports whether assets of this class may be attached to beds and
// are listed to middlewares at boot.
func (c Class) Linkable() bool {
	return c == Camera || c == VitalsMonitor
}

// Action is one operator command.
type Action struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Config is the input a device is constructed from. Meta must already carry
// the resolved middleware_hostname.
type Config struct {
	AssetID uuid.UUID
	Meta    map[string]interface{}
}

// Device is a constructed, validated asset of one class.
type Device interface {
	Class() Class
	// Host is the device's address on the facility network.
	Host() string
	MiddlewareHostname() string
	// Handle returns a validation error for bad input without calling the
	// middleware; otherwise it returns the upstream response.
	Handle(ctx context.Context, a Action) (*gateway.Response, error)
}

// Factory builds a Device of one class.
type Factory func(cfg Config, caller gateway.Caller) (Device, error)

var registry = map[Class]Factory{
	Camera:        newCamera,
	VitalsMonitor: newVitals(VitalsMonitor),
	Ventilator:    newVitals(Ventilator),
}

// Classes lists the registered classes in a stable order.
func Classes() []Class {
	out := make([]Class, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New validates cfg for class and returns the device.
func New(class Class, cfg Config, caller gateway.Caller) (Device, error) {
	f, ok := registry[class]
	if !ok {
		names := make([]string, 0, len(registry))
		for _, c := range Classes() {
			names = append(names, string(c))
		}
		return nil, apperr.Invalid("asset_class", "invalid",
			fmt.Sprintf("%q is not one of %s", class, strings.Join(names, ", ")))
	}
	return f(cfg, caller)
}

// base carries what every class needs: the device address and its
// middleware host.
type base struct {
	assetID    uuid.UUID
	ip         string
	middleware string
	caller     gateway.Caller
}

func newBase(cfg Config, caller gateway.Caller, fields apperr.Fields) base {
	b := base{
		assetID:    cfg.AssetID,
		ip:         MetaString(cfg.Meta, MetaLocalIP),
		middleware: MetaString(cfg.Meta, MetaMiddlewareHostname),
		caller:     caller,
	}
	if b.ip == "" {
		fields.Add(MetaLocalIP, "required", "local_ip_address is required")
	}
	if b.middleware == "" {
		fields.Add(MetaMiddlewareHostname, "required", "middleware_hostname is required")
	}
	return b
}

func (b base) Host() string               { return b.ip }
func (b base) MiddlewareHostname() string { return b.middleware }

func (b base) call(ctx context.Context, method, path string, body interface{}) *gateway.Response {
	return b.caller.Call(ctx, gateway.Request{
		Method: method,
		Host:   b.middleware,
		Path:   path,
		Body:   body,
		Claims: map[string]interface{}{"asset_id": b.assetID.String()},
	})
}

// MetaString returns meta[key] as a trimmed string, "" when absent or not a
// string.
func MetaString(meta map[string]interface{}, key string) string {
	s, _ := meta[key].(string)
	return strings.TrimSpace(s)
}

func invalidAction(a Action, allowed []string) error {
	return apperr.Invalid("action", "invalid",
		fmt.Sprintf("%q is not one of %s", a.Type, strings.Join(allowed, ", ")))
}

// Float reads a finite number from data.
func Float(data map[string]interface{}, key string) (float64, bool) {
	var f float64
	switch v := data[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

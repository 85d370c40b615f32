package devices

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

// Sample is one timestamped status snapshot returned by a middleware.
// Time is zero when the middleware omitted it.
type Sample struct {
	Time   time.Time
	Status map[string]string
}

type rawSample struct {
	Time   string            `json:"time"`
	Status map[string]string `json:"status"`
}

// ProbeHost fetches the device status snapshot of a middleware host. The
// current endpoint is GET /devices/status. When cameras are given and that
// fails, GET /cameras/status is tried, then the legacy POST /cameras/status
// carrying the cameras' credentials. All attempts share the caller's one
// status deadline.
func ProbeHost(ctx context.Context, caller gateway.Caller, host string, cameras []Device) *gateway.Response {
	ctx, cancel := context.WithTimeout(ctx, gateway.StatusBudget(caller))
	defer cancel()

	probe := func(method, path string, body interface{}) *gateway.Response {
		return caller.Call(ctx, gateway.Request{Method: method, Host: host, Path: path, Body: body, Probe: true})
	}

	resp := probe(http.MethodGet, "devices/status", nil)
	if resp.OK() || len(cameras) == 0 {
		return resp
	}
	if resp = probe(http.MethodGet, "cameras/status", nil); resp.OK() {
		return resp
	}

	var entries []map[string]interface{}
	for _, d := range cameras {
		if c, ok := d.(*camera); ok {
			entries = append(entries, c.legacyStatusEntry())
		}
	}
	if len(entries) == 0 {
		return resp
	}
	return probe(http.MethodPost, "cameras/status", entries)
}

// ParseSamples decodes a status response. Unknown status words are kept
// verbatim; callers map them.
func ParseSamples(resp *gateway.Response) ([]Sample, error) {
	if !resp.OK() {
		if resp.Error != "" {
			return nil, fmt.Errorf("status probe failed: %s", resp.Error)
		}
		return nil, fmt.Errorf("status probe returned %d", resp.StatusCode)
	}
	var raw []rawSample
	if err := resp.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode status payload: %w", err)
	}
	out := make([]Sample, 0, len(raw))
	for _, r := range raw {
		s := Sample{Status: make(map[string]string, len(r.Status))}
		for ip, st := range r.Status {
			s.Status[ip] = strings.ToLower(strings.TrimSpace(st))
		}
		if r.Time != "" {
			t, err := parseTime(r.Time)
			if err != nil {
				return nil, fmt.Errorf("sample time %q: %w", r.Time, err)
			}
			s.Time = t
		}
		out = append(out, s)
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO 8601 timestamp")
}

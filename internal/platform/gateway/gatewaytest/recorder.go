// Package gatewaytest provides an in-memory gateway.Caller for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
)

// Recorder records every request and answers with Respond, or 200 {} when
// Respond is nil.
type Recorder struct {
	mu       sync.Mutex
	requests []gateway.Request
	Respond  func(req gateway.Request) *gateway.Response
}

func (r *Recorder) Call(ctx context.Context, req gateway.Request) *gateway.Response {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	respond := r.Respond
	r.mu.Unlock()
	if respond != nil {
		return respond(req)
	}
	return OK(map[string]interface{}{})
}

// Requests returns a copy of the recorded requests.
func (r *Recorder) Requests() []gateway.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.Request(nil), r.requests...)
}

// Count returns how many recorded requests match method, host and path.
// Empty arguments match anything.
func (r *Recorder) Count(method, host, path string) int {
	n := 0
	for _, req := range r.Requests() {
		if (method == "" || req.Method == method) &&
			(host == "" || req.Host == host) &&
			(path == "" || req.Path == path) {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requests = nil
	r.mu.Unlock()
}

// OK builds a 200 response carrying v as JSON.
func OK(v interface{}) *gateway.Response {
	raw, _ := json.Marshal(v)
	return &gateway.Response{StatusCode: 200, Body: raw}
}

// Status builds a response with the given status and JSON body.
func Status(code int, v interface{}) *gateway.Response {
	raw, _ := json.Marshal(v)
	return &gateway.Response{StatusCode: code, Body: raw}
}

// Unreachable builds a transport failure.
func Unreachable() *gateway.Response {
	return &gateway.Response{Error: "dial tcp: connection refused"}
}

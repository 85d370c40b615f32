// Package configsync pushes asset configuration to middleware hosts after
// asset writes commit.
package configsync

import (
	"context"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ohcnetwork/care-sub000/internal/domain/asset"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
	"github.com/ohcnetwork/care-sub000/internal/platform/metrics"
)

const assetsPath = "api/assets"

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeDropped Outcome = "dropped"
)

// Step is one middleware call made during a sync.
type Step struct {
	Method     string `json:"method"`
	Host       string `json:"host"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of the most recent sync of one asset.
type Result struct {
	AssetID uuid.UUID `json:"asset_id"`
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	Steps   []Step    `json:"steps"`
	At      time.Time `json:"at"`
}

type job struct {
	pre, post *asset.Asset
	deleted   *asset.Asset
}

func (j job) assetID() uuid.UUID {
	if j.deleted != nil {
		return j.deleted.ID
	}
	return j.post.ID
}

// queued is the newest image of an asset handed to a worker.
type queued struct {
	image   *asset.Asset
	deleted bool
}

// Engine runs syncs on a fixed pool of workers. Jobs for one asset always
// land on the same worker, and an image whose ModifiedAt is not newer than
// the last one queued for the asset is discarded, so the middleware sees
// writes in commit order even when notifications race.
type Engine struct {
	caller gateway.Caller
	logger zerolog.Logger
	now    func() time.Time

	queues []chan job
	wg     sync.WaitGroup

	mu      sync.RWMutex
	last    map[uuid.UUID]*Result
	latest  map[uuid.UUID]queued
	stopped bool
}

// QueueSize is the per-worker buffer. A full queue drops the job; the next
// write of the asset converges it.
const QueueSize = 256

func NewEngine(caller gateway.Caller, logger zerolog.Logger, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	e := &Engine{
		caller: caller,
		logger: logger.With().Str("component", "configsync").Logger(),
		now:    time.Now,
		queues: make([]chan job, workers),
		last:   make(map[uuid.UUID]*Result),
		latest: make(map[uuid.UUID]queued),
	}
	for i := range e.queues {
		e.queues[i] = make(chan job, QueueSize)
	}
	return e
}

// Start launches the workers. In-flight syncs are not cancelled by ctx;
// call Stop to drain.
func (e *Engine) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i, q := range e.queues {
		e.wg.Add(1)
		go func(worker int, q <-chan job) {
			defer e.wg.Done()
			for j := range q {
				e.run(ctx, j)
			}
		}(i, q)
	}
}

// Stop closes the queues and waits for queued jobs to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, j job) {
	if j.deleted != nil {
		e.Remove(ctx, j.deleted)
		return
	}
	e.Sync(ctx, j.pre, j.post)
}

// newer reports whether post supersedes prev. Images without a
// modification time are always applied.
func newer(post, prev *asset.Asset) bool {
	if post.ModifiedAt.IsZero() || prev.ModifiedAt.IsZero() {
		return true
	}
	return post.ModifiedAt.After(prev.ModifiedAt)
}

func (e *Engine) enqueue(j job) {
	id := j.assetID()
	h := fnv.New32a()
	h.Write(id[:])
	q := e.queues[int(h.Sum32()%uint32(len(e.queues)))]

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.logger.Warn().Str("asset", id.String()).Msg("sync engine stopped, job dropped")
		return
	}
	prev, seen := e.latest[id]
	if j.deleted == nil && seen {
		if prev.deleted || !newer(j.post, prev.image) {
			e.logger.Debug().
				Str("asset", id.String()).
				Time("modified_at", j.post.ModifiedAt).
				Msg("stale asset image, sync skipped")
			metrics.IncConfigSync("enqueue", "stale")
			return
		}
		// The previous queued image is what the middleware will hold when
		// this job runs.
		j.pre = prev.image
	}
	select {
	case q <- j:
		if j.deleted != nil {
			e.latest[id] = queued{image: j.deleted, deleted: true}
		} else {
			e.latest[id] = queued{image: j.post}
		}
	default:
		e.logger.Error().Str("asset", id.String()).Msg("sync queue full, job dropped")
		metrics.IncConfigSync("enqueue", string(OutcomeDropped))
		e.last[id] = &Result{AssetID: id, Outcome: OutcomeDropped, Reason: "queue full", At: e.now()}
	}
}

// AssetWritten queues a sync of post. pre is the image before the write,
// nil on create.
func (e *Engine) AssetWritten(pre, post *asset.Asset) {
	if post == nil {
		return
	}
	e.enqueue(job{pre: pre, post: post})
}

// AssetDeleted queues removal of a from its middleware.
func (e *Engine) AssetDeleted(a *asset.Asset) {
	if a == nil {
		return
	}
	e.enqueue(job{deleted: a})
}

// Payload is the body sent on create and update.
func Payload(a *asset.Asset) map[string]interface{} {
	body := make(map[string]interface{}, len(a.Meta)+4)
	for k, v := range a.Meta {
		body[k] = v
	}
	body["id"] = a.ID.String()
	body["ip_address"] = a.LocalIP()
	body["name"] = a.Name
	body["asset_class"] = string(a.Class())
	return body
}

func (e *Engine) call(ctx context.Context, r *Result, method, host, path string, body interface{}) bool {
	resp := e.caller.Call(ctx, gateway.Request{
		Method: method,
		Host:   host,
		Path:   path,
		Body:   body,
		Claims: map[string]interface{}{"asset_id": r.AssetID.String()},
	})
	step := Step{Method: method, Host: host, Path: path, StatusCode: resp.StatusCode, Error: resp.Error}
	if !resp.OK() && step.Error == "" {
		step.Error = http.StatusText(resp.StatusCode)
	}
	r.Steps = append(r.Steps, step)

	op := map[string]string{
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodDelete: "delete",
	}[method]
	if resp.OK() {
		metrics.IncConfigSync(op, "ok")
		return true
	}
	metrics.IncConfigSync(op, "error")
	e.logger.Warn().
		Str("asset", r.AssetID.String()).
		Str("host", host).
		Str("method", method).
		Int("status", resp.StatusCode).
		Str("error", step.Error).
		Msg("middleware sync call failed")
	return false
}

func (e *Engine) skip(r *Result, reason string) *Result {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
	metrics.IncConfigSync("skip", reason)
	e.record(r)
	return r
}

// Sync pushes post to its resolved middleware:
//   - no resolved host: nothing to do;
//   - pre had no host: POST to the new host;
//   - host changed: best-effort DELETE on the old host, then PUT on the new;
//   - otherwise PUT.
func (e *Engine) Sync(ctx context.Context, pre, post *asset.Asset) *Result {
	r := &Result{AssetID: post.ID, At: e.now()}
	newHost := post.ResolvedMiddlewareHostname
	if newHost == "" {
		return e.skip(r, "unmanaged")
	}
	if post.LocalIP() == "" {
		e.logger.Warn().Str("asset", post.ID.String()).Str("host", newHost).
			Msg("asset has no local_ip_address, sync skipped")
		return e.skip(r, "missing_ip_address")
	}

	body := Payload(post)
	oldHost := ""
	if pre != nil {
		oldHost = pre.ResolvedMiddlewareHostname
	}

	ok := false
	if oldHost == "" {
		ok = e.call(ctx, r, http.MethodPost, newHost, assetsPath, body)
	} else {
		path := assetsPath + "/" + post.ID.String()
		if oldHost != newHost {
			e.call(ctx, r, http.MethodDelete, oldHost, path, nil)
		}
		ok = e.call(ctx, r, http.MethodPut, newHost, path, body)
	}
	r.Outcome = OutcomeOK
	if !ok {
		r.Outcome = OutcomeFailed
	}
	e.record(r)
	return r
}

// Remove deletes a from its resolved middleware.
func (e *Engine) Remove(ctx context.Context, a *asset.Asset) *Result {
	r := &Result{AssetID: a.ID, At: e.now()}
	host := a.ResolvedMiddlewareHostname
	if host == "" {
		return e.skip(r, "unmanaged")
	}
	r.Outcome = OutcomeOK
	if !e.call(ctx, r, http.MethodDelete, host, assetsPath+"/"+a.ID.String(), nil) {
		r.Outcome = OutcomeFailed
	}
	e.record(r)
	return r
}

func (e *Engine) record(r *Result) {
	e.mu.Lock()
	e.last[r.AssetID] = r
	e.mu.Unlock()
	e.logger.Debug().
		Str("asset", r.AssetID.String()).
		Str("outcome", string(r.Outcome)).
		Str("reason", r.Reason).
		Int("steps", len(r.Steps)).
		Msg("asset sync finished")
}

// Last returns the most recent sync result of the asset.
func (e *Engine) Last(assetID uuid.UUID) (*Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.last[assetID]
	return r, ok
}

var _ asset.SyncNotifier = (*Engine)(nil)

// Package queue is the request queue engine: it holds pending campaign
// mutations, executes them against the remote API, and retries failures with
// exponential backoff until they succeed or are abandoned.
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/ids"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

const (
	DefaultMaxRetries = 3
	DefaultMaxAge     = 7 * 24 * time.Hour
)

// Executor performs remote calls. *remote.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req *models.QueuedRequest) (json.RawMessage, error)
	ExecuteBatch(ctx context.Context, reqs []*models.QueuedRequest) (json.RawMessage, error)
}

// Connectivity reports whether a network attempt is worth making.
// *netstate.Tracker implements it.
type Connectivity interface {
	IsConnected() bool
}

// Listener receives reconciliation signals. OnConfirmed fires after a
// request succeeds; OnAbandoned fires once when a reconcilable request
// exhausts its retries. Both are called without the queue lock held.
type Listener interface {
	OnConfirmed(req *models.QueuedRequest)
	OnAbandoned(req *models.QueuedRequest)
}

// Options tunes retry and batching behavior. Zero values take defaults.
type Options struct {
	MaxRetries      int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	MaxAge          time.Duration
	DisableBatching bool
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// Request describes a mutation to enqueue. ID and creation time are assigned
// by the engine.
type Request struct {
	Kind       models.RequestKind
	Endpoint   string
	Method     models.Method
	Payload    map[string]interface{}
	ResourceID string
	ActorID    string
}

// EnqueueResult reports whether the request went out immediately.
type EnqueueResult struct {
	Executed bool
	Result   json.RawMessage
	Request  *models.QueuedRequest
}

// Engine owns the pending request list. It is safe for concurrent use;
// network calls are made without holding the lock.
type Engine struct {
	mu         sync.Mutex
	saveMu     sync.Mutex
	pending    []*models.QueuedRequest
	syncErrors map[string]string
	lastSync   int64
	paused     bool
	draining   bool

	store    db.KVStore
	exec     Executor
	net      Connectivity
	listener Listener
	opts     Options
	now      func() time.Time
	tracer   trace.Tracer
}

// New creates an Engine. store may be nil for a memory-only queue.
func New(store db.KVStore, exec Executor, net Connectivity, opts Options) *Engine {
	return &Engine{
		syncErrors: make(map[string]string),
		store:      store,
		exec:       exec,
		net:        net,
		opts:       opts.withDefaults(),
		now:        time.Now,
		tracer:     telemetry.Tracer("queue"),
	}
}

// SetListener installs the reconciliation listener.
func (e *Engine) SetListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Enqueue validates and sanitizes req. When connected it is executed
// immediately and, on success, confirmed without ever being stored. Otherwise,
// or when the immediate attempt fails, it is appended to the queue.
func (e *Engine) Enqueue(ctx context.Context, req Request) (EnqueueResult, error) {
	if !req.Kind.Valid() {
		return EnqueueResult{}, apperrors.New(apperrors.ErrQueueInvalidKind, "unsupported request kind: "+string(req.Kind))
	}
	if !req.Method.Valid() {
		return EnqueueResult{}, apperrors.New(apperrors.ErrInvalid, "unsupported method: "+string(req.Method))
	}
	if req.Endpoint == "" {
		return EnqueueResult{}, apperrors.New(apperrors.ErrInvalid, "endpoint is required")
	}

	e.mu.Lock()
	now := e.now()
	listener := e.listener
	e.mu.Unlock()

	item := &models.QueuedRequest{
		ID:       ids.NewRequestID(string(req.Kind), now),
		Kind:     req.Kind,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Payload:  Sanitize(req.Payload),
		Metadata: models.RequestMetadata{
			ResourceID: req.ResourceID,
			ActorID:    req.ActorID,
			Timestamp:  now.UnixMilli(),
			Priority:   req.Kind.Priority(),
		},
		CreatedAt: now.UnixMilli(),
	}

	if e.net != nil && e.net.IsConnected() {
		result, err := e.execute(ctx, item)
		if err == nil {
			logging.Info("Request executed immediately", requestContext(item))
			if listener != nil {
				listener.OnConfirmed(item.Clone())
			}
			return EnqueueResult{Executed: true, Result: result, Request: item.Clone()}, nil
		}
		logging.Warn("Immediate execution failed, queueing", withError(requestContext(item), err))
	}

	e.mu.Lock()
	e.pending = append(e.pending, item)
	e.mu.Unlock()

	logging.Info("Request enqueued", requestContext(item))

	if err := e.save(ctx); err != nil {
		logging.Error("Failed to persist queue", err, requestContext(item))
	}
	return EnqueueResult{Executed: false, Request: item.Clone()}, nil
}

func (e *Engine) execute(ctx context.Context, req *models.QueuedRequest) (_ json.RawMessage, err error) {
	ctx, span := e.tracer.Start(ctx, "queue.execute", trace.WithAttributes(
		attribute.String("queue.request_id", req.ID),
		attribute.String("queue.kind", string(req.Kind)),
		attribute.Int("queue.retry_count", req.Metadata.RetryCount),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	return e.exec.Execute(ctx, req)
}

// Pause stops Drain from processing until Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	logging.Info("Queue processing paused")
}

// Resume re-enables Drain.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	logging.Info("Queue processing resumed")
}

// IsPaused reports whether processing is paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// IsDraining reports whether a drain is in progress.
func (e *Engine) IsDraining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// Size returns the number of pending requests.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// List returns copies of the pending requests in processing order.
func (e *Engine) List() []*models.QueuedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]*models.QueuedRequest, 0, len(e.pending))
	for _, r := range e.pending {
		items = append(items, r.Clone())
	}
	sortByPriority(items)
	return items
}

// Get returns a copy of the pending request with id.
func (e *Engine) Get(id string) (*models.QueuedRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := e.indexOf(id); i >= 0 {
		return e.pending[i].Clone(), nil
	}
	return nil, apperrors.New(apperrors.ErrNotFound, "request not found: "+id)
}

// SyncErrors returns the last error message per failed request id.
func (e *Engine) SyncErrors() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]string, len(e.syncErrors))
	for k, v := range e.syncErrors {
		out[k] = v
	}
	return out
}

// LastSync returns the completion time of the last drain, or zero.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSync == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.lastSync)
}

// RetryNow clears the backoff wait of a failed request so the next drain
// attempts it right away.
func (e *Engine) RetryNow(ctx context.Context, id string) error {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return apperrors.New(apperrors.ErrNotFound, "request not found: "+id)
	}
	req := e.pending[i]
	req.Metadata.LastRetryTime = 0
	logCtx := requestContext(req)
	e.mu.Unlock()

	logging.Info("Request marked for immediate retry", logCtx)
	return e.save(ctx)
}

// Remove drops a request without reconciling it.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return apperrors.New(apperrors.ErrNotFound, "request not found: "+id)
	}
	e.removeAt(i)
	delete(e.syncErrors, id)
	e.mu.Unlock()

	return e.save(ctx)
}

// Clear removes every pending request and sync error, in memory and in the
// durable store.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	e.pending = nil
	e.syncErrors = make(map[string]string)
	e.lastSync = 0
	e.mu.Unlock()

	logging.Info("Queue cleared")

	if e.store == nil {
		return nil
	}
	if err := e.store.Remove(ctx, db.KeyQueue); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "clear queue", err)
	}
	return nil
}

// Cleanup removes requests older than maxAge, whatever their retry state.
// A non-positive maxAge uses the configured default of seven days.
func (e *Engine) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = e.opts.MaxAge
	}

	e.mu.Lock()
	cutoff := e.now().Add(-maxAge).UnixMilli()
	kept := e.pending[:0]
	removed := 0
	for _, r := range e.pending {
		if r.CreatedAt < cutoff {
			delete(e.syncErrors, r.ID)
			removed++
			logging.Warn("Pruning expired request", requestContext(r))
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = kept
	e.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	logging.Info("Queue cleanup finished", map[string]interface{}{"removed": removed})
	return removed, e.save(ctx)
}

// Stats summarizes the queue.
type Stats struct {
	Total     int                        `json:"total"`
	ByKind    map[models.RequestKind]int `json:"byKind"`
	Retrying  int                        `json:"retrying"`
	Failed    int                        `json:"failed"`
	OldestAge time.Duration              `json:"oldestAge"`
	Paused    bool                       `json:"paused"`
	Draining  bool                       `json:"draining"`
	LastSync  int64                      `json:"lastSyncTimestamp"`
}

// Stats returns queue statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Total:    len(e.pending),
		ByKind:   make(map[models.RequestKind]int),
		Failed:   len(e.syncErrors),
		Paused:   e.paused,
		Draining: e.draining,
		LastSync: e.lastSync,
	}
	now := e.now().UnixMilli()
	for _, r := range e.pending {
		s.ByKind[r.Kind]++
		if r.Metadata.RetryCount > 0 {
			s.Retrying++
		}
		if age := time.Duration(now-r.CreatedAt) * time.Millisecond; age > s.OldestAge {
			s.OldestAge = age
		}
	}
	return s
}

func (e *Engine) indexOf(id string) int {
	for i, r := range e.pending {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) removeAt(i int) {
	copy(e.pending[i:], e.pending[i+1:])
	e.pending[len(e.pending)-1] = nil
	e.pending = e.pending[:len(e.pending)-1]
}

// sortByPriority orders by priority descending, then oldest first.
func sortByPriority(items []*models.QueuedRequest) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Metadata.Priority != b.Metadata.Priority {
			return a.Metadata.Priority > b.Metadata.Priority
		}
		return a.CreatedAt < b.CreatedAt
	})
}

func requestContext(r *models.QueuedRequest) map[string]interface{} {
	return map[string]interface{}{
		"request_id":  r.ID,
		"kind":        string(r.Kind),
		"resource_id": r.Metadata.ResourceID,
		"retry_count": r.Metadata.RetryCount,
	}
}

func withError(ctx map[string]interface{}, err error) map[string]interface{} {
	ctx["error"] = err.Error()
	return ctx
}

package queue

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

// OutcomeStatus is the result of processing one request in a drain.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeAbandoned OutcomeStatus = "abandoned"
	OutcomeDeferred  OutcomeStatus = "deferred"
)

// Outcome reports what a drain did with one request.
type Outcome struct {
	RequestID  string             `json:"requestId"`
	Kind       models.RequestKind `json:"kind"`
	ResourceID string             `json:"resourceId,omitempty"`
	ActorID    string             `json:"actorId,omitempty"`
	Status     OutcomeStatus      `json:"status"`
	Batched    bool               `json:"batched,omitempty"`
	RetryCount int                `json:"retryCount"`
	Err        error              `json:"-"`
}

func newOutcome(r *models.QueuedRequest, status OutcomeStatus, err error) Outcome {
	return Outcome{
		RequestID:  r.ID,
		Kind:       r.Kind,
		ResourceID: r.Metadata.ResourceID,
		ActorID:    r.Metadata.ActorID,
		Status:     status,
		RetryCount: r.Metadata.RetryCount,
		Err:        err,
	}
}

// Drain processes the queue once. It is a no-op while disconnected or paused
// and while another drain is running.
//
// Requests are ordered by priority then age. Like and unlike requests that
// share a route are first sent as one batch call; whatever is left goes out
// individually. A request that already failed MaxRetries times is abandoned
// and, if it names its resource and actor, rolled back through the listener.
// A request still inside its backoff window is left untouched.
func (e *Engine) Drain(ctx context.Context) ([]Outcome, error) {
	e.mu.Lock()
	if e.paused || e.draining || !e.connected() {
		e.mu.Unlock()
		return nil, nil
	}
	e.draining = true
	items := make([]*models.QueuedRequest, 0, len(e.pending))
	for _, r := range e.pending {
		items = append(items, r.Clone())
	}
	now := e.now()
	listener := e.listener
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	if len(items) == 0 {
		return nil, nil
	}
	sortByPriority(items)

	ctx, span := e.tracer.Start(ctx, "queue.drain", trace.WithAttributes(
		attribute.Int("queue.size", len(items)),
	))

	logging.Info("Draining queue", map[string]interface{}{"size": len(items)})

	outcomes := make([]Outcome, 0, len(items))
	resolved := make(map[string]bool)

	if !e.opts.DisableBatching {
		for _, group := range e.batchGroups(items, now) {
			if len(group) < 2 {
				continue
			}
			if err := e.executeBatch(ctx, group); err != nil {
				logging.Warn("Batch call failed, falling back to individual requests", map[string]interface{}{
					"route": batchRoute(group[0]),
					"size":  len(group),
					"error": err.Error(),
				})
				continue
			}
			for _, r := range group {
				resolved[r.ID] = true
				if e.complete(r.ID) && listener != nil {
					listener.OnConfirmed(r)
				}
				o := newOutcome(r, OutcomeSucceeded, nil)
				o.Batched = true
				outcomes = append(outcomes, o)
			}
			logging.Info("Batch call succeeded", map[string]interface{}{
				"route": batchRoute(group[0]),
				"size":  len(group),
			})
		}
	}

	for _, r := range items {
		if resolved[r.ID] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, e.processOne(ctx, r, now, listener))
	}

	e.mu.Lock()
	e.lastSync = e.now().UnixMilli()
	e.mu.Unlock()

	err := e.save(ctx)
	if err != nil {
		logging.Error("Failed to persist queue after drain", err)
	}
	telemetry.EndSpan(span, err, attribute.Int("queue.outcomes", len(outcomes)))
	return outcomes, err
}

func (e *Engine) processOne(ctx context.Context, r *models.QueuedRequest, now time.Time, listener Listener) Outcome {
	ready, exhausted := e.readiness(r, now)

	switch {
	case exhausted:
		found := e.abandon(r.ID)
		err := apperrors.New(apperrors.ErrQueueAbandoned, "max retries exceeded")
		logging.Warn("Request abandoned after max retries", requestContext(r))
		if found && r.Reconcilable() && listener != nil {
			listener.OnAbandoned(r)
		}
		return newOutcome(r, OutcomeAbandoned, err)

	case !ready:
		logging.Debug("Request still in backoff, skipping", requestContext(r))
		return newOutcome(r, OutcomeDeferred, nil)
	}

	if _, err := e.execute(ctx, r); err != nil {
		retries := e.fail(r.ID, err)
		r.Metadata.RetryCount = retries
		logging.Warn("Request failed, will retry", withError(requestContext(r), err))
		return newOutcome(r, OutcomeFailed, err)
	}

	if e.complete(r.ID) && listener != nil {
		listener.OnConfirmed(r)
	}
	logging.Info("Request succeeded", requestContext(r))
	return newOutcome(r, OutcomeSucceeded, nil)
}

// readiness reports whether r may be sent now and whether it has used up
// its retries.
func (e *Engine) readiness(r *models.QueuedRequest, now time.Time) (ready, exhausted bool) {
	rc := r.Metadata.RetryCount
	if rc >= e.opts.MaxRetries {
		return false, true
	}
	if rc == 0 {
		return true, false
	}
	wait := Backoff(rc, e.opts.BaseBackoff, e.opts.MaxBackoff)
	elapsed := time.Duration(now.UnixMilli()-r.Metadata.LastRetryTime) * time.Millisecond
	return elapsed >= wait, false
}

// batchGroups groups ready batchable requests by method and route, keeping
// first-seen order.
func (e *Engine) batchGroups(items []*models.QueuedRequest, now time.Time) [][]*models.QueuedRequest {
	var order []string
	groups := make(map[string][]*models.QueuedRequest)

	for _, r := range items {
		if !r.Kind.Batchable() {
			continue
		}
		if ready, _ := e.readiness(r, now); !ready {
			continue
		}
		key := string(r.Method) + " " + batchRoute(r)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([][]*models.QueuedRequest, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// batchRoute strips the actor and resource segments so toggles of the same
// kind on different campaigns share a route.
func batchRoute(r *models.QueuedRequest) string {
	if r.Reconcilable() {
		suffix := "/" + r.Metadata.ActorID + "/" + r.Metadata.ResourceID
		if strings.HasSuffix(r.Endpoint, suffix) {
			return strings.TrimSuffix(r.Endpoint, suffix)
		}
	}
	return r.Endpoint
}

func (e *Engine) executeBatch(ctx context.Context, group []*models.QueuedRequest) (err error) {
	ctx, span := e.tracer.Start(ctx, "queue.batch", trace.WithAttributes(
		attribute.String("queue.route", batchRoute(group[0])),
		attribute.Int("queue.batch_size", len(group)),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	_, err = e.exec.ExecuteBatch(ctx, group)
	return err
}

// complete removes a succeeded request. It reports false when the request
// was removed concurrently, e.g. by Clear.
func (e *Engine) complete(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	e.removeAt(i)
	delete(e.syncErrors, id)
	return true
}

// fail records a failed attempt and returns the new retry count.
func (e *Engine) fail(id string, err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexOf(id)
	if i < 0 {
		return 0
	}
	r := e.pending[i]
	r.Metadata.RetryCount++
	r.Metadata.LastRetryTime = e.now().UnixMilli()
	e.syncErrors[id] = err.Error()
	return r.Metadata.RetryCount
}

// abandon removes an exhausted request and its sync error.
func (e *Engine) abandon(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	e.removeAt(i)
	delete(e.syncErrors, id)
	return true
}

func (e *Engine) connected() bool {
	return e.net != nil && e.net.IsConnected()
}

// Package reconcile drives the request queue from connectivity and app
// lifecycle events and threads each request's outcome back into the
// optimistic interaction store.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/netstate"
	"github.com/kimhsiao/campaignsync/internal/sync/queue"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

// Trigger names what caused a drain.
type Trigger string

const (
	TriggerStart      Trigger = "start"
	TriggerRestore    Trigger = "restore"
	TriggerForeground Trigger = "foreground"
	TriggerManual     Trigger = "manual"
	TriggerPeriodic   Trigger = "periodic"
)

// Queue is the part of the queue engine the loop drives.
type Queue interface {
	Drain(ctx context.Context) ([]queue.Outcome, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	Size() int
	IsPaused() bool
	IsDraining() bool
}

// Settler applies request outcomes to optimistic state.
type Settler interface {
	Confirm(ctx context.Context, campaignID string, kind models.RequestKind)
	Rollback(ctx context.Context, campaignID, actorID string, kind models.RequestKind)
}

// Config holds loop configuration.
type Config struct {
	// Interval enables a periodic drain while connected. Zero disables it.
	Interval time.Duration
	// MaxAge bounds queued request age on cleanup. Zero uses the queue default.
	MaxAge time.Duration
}

// Loop dispatches connectivity restores, foreground events, start-up and
// manual triggers into queue drains. At most one drain runs at a time;
// concurrent triggers share its result.
type Loop struct {
	queue   Queue
	settler Settler
	signal  netstate.Signal
	tracker *netstate.Tracker
	cfg     Config

	group  singleflight.Group
	tracer trace.Tracer

	stopCh      chan struct{}
	bg          context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu            sync.RWMutex
	isRunning     bool
	lastDrainTime time.Time
	lastTrigger   Trigger
	lastOutcomes  []queue.Outcome
	drains        int
}

// New creates a Loop. tracker must be the same Tracker the queue reads.
func New(q Queue, settler Settler, signal netstate.Signal, tracker *netstate.Tracker, cfg Config) *Loop {
	return &Loop{
		queue:   q,
		settler: settler,
		signal:  signal,
		tracker: tracker,
		cfg:     cfg,
		tracer:  telemetry.Tracer("reconcile"),
	}
}

// OnConfirmed implements queue.Listener.
func (l *Loop) OnConfirmed(req *models.QueuedRequest) {
	if !req.Reconcilable() {
		return
	}
	l.settler.Confirm(context.Background(), req.Metadata.ResourceID, req.Kind)
}

// OnAbandoned implements queue.Listener.
func (l *Loop) OnAbandoned(req *models.QueuedRequest) {
	logging.Warn("Rolling back abandoned request", map[string]interface{}{
		"request_id":  req.ID,
		"kind":        string(req.Kind),
		"resource_id": req.Metadata.ResourceID,
		"actor_id":    req.Metadata.ActorID,
	})
	l.settler.Rollback(context.Background(), req.Metadata.ResourceID, req.Metadata.ActorID, req.Kind)
}

// Start reads current connectivity, drains if connected with work queued,
// prunes old requests, then subscribes to connectivity changes.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.isRunning {
		l.mu.Unlock()
		return
	}
	l.isRunning = true
	l.stopCh = make(chan struct{})
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.bg = bg
	l.cancel = cancel
	l.mu.Unlock()

	status := l.fetchCurrent(ctx)
	l.tracker.Update(status)

	if status.IsConnected && l.queue.Size() > 0 {
		l.drain(ctx, TriggerStart)
	}
	l.cleanup(ctx)

	unsubscribe := l.signal.Subscribe(func(s netstate.Status) {
		l.handleStatus(s)
	})
	l.mu.Lock()
	l.unsubscribe = unsubscribe
	l.mu.Unlock()

	if l.cfg.Interval > 0 {
		l.wg.Add(1)
		go l.periodicLoop(bg)
	}

	logging.Info("Reconciliation loop started", map[string]interface{}{
		"connected": status.IsConnected,
		"interval":  l.cfg.Interval.String(),
	})
}

// Stop unsubscribes and waits for background drains to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return
	}
	l.isRunning = false
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	close(l.stopCh)
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	l.wg.Wait()
	l.cancel()

	logging.Info("Reconciliation loop stopped")
}

// Wait blocks until drains started by connectivity events have finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// HandleStatus feeds a connectivity reading in directly. A restore drains in
// the background and then prunes. A stopped loop only records the reading.
func (l *Loop) HandleStatus(s netstate.Status) {
	l.handleStatus(s)
}

func (l *Loop) handleStatus(s netstate.Status) {
	if !l.tracker.Update(s) {
		return
	}

	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		logging.Debug("Connectivity restored while stopped, not draining")
		return
	}
	ctx := l.bg
	l.wg.Add(1)
	l.mu.Unlock()

	logging.Info("Connectivity restored", map[string]interface{}{"type": string(s.Type)})
	go func() {
		defer l.wg.Done()
		l.drain(ctx, TriggerRestore)
		l.cleanup(ctx)
	}()
}

// HandleForeground re-reads connectivity when the app returns to the
// foreground, drains if connected, and always prunes.
func (l *Loop) HandleForeground(ctx context.Context) {
	status := l.fetchCurrent(ctx)
	l.tracker.Update(status)

	if status.IsConnected {
		l.drain(ctx, TriggerForeground)
	}
	l.cleanup(ctx)
}

// Trigger drains inline and returns the outcomes. It reports ErrOffline
// or ErrQueuePaused when nothing could be attempted.
func (l *Loop) Trigger(ctx context.Context) ([]queue.Outcome, error) {
	if !l.tracker.IsConnected() {
		return nil, apperrors.New(apperrors.ErrOffline, "device is offline")
	}
	if l.queue.IsPaused() {
		return nil, apperrors.New(apperrors.ErrQueuePaused, "queue processing is paused")
	}
	return l.drain(ctx, TriggerManual)
}

func (l *Loop) periodicLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if !l.tracker.IsConnected() || l.queue.Size() == 0 {
				continue
			}
			l.drain(ctx, TriggerPeriodic)
		}
	}
}

// drain runs one queue drain through the single-flight gate.
func (l *Loop) drain(ctx context.Context, trigger Trigger) ([]queue.Outcome, error) {
	v, err, shared := l.group.Do("drain", func() (interface{}, error) {
		ctx, span := l.tracer.Start(ctx, "reconcile.drain", trace.WithAttributes(
			attribute.String("reconcile.trigger", string(trigger)),
		))
		outcomes, err := l.queue.Drain(ctx)
		telemetry.EndSpan(span, err, attribute.Int("reconcile.outcomes", len(outcomes)))

		l.mu.Lock()
		l.lastDrainTime = time.Now()
		l.lastTrigger = trigger
		l.lastOutcomes = outcomes
		l.drains++
		l.mu.Unlock()

		l.logSummary(trigger, outcomes)
		return outcomes, err
	})
	if shared {
		logging.Debug("Joined in-flight drain", map[string]interface{}{"trigger": string(trigger)})
	}
	outcomes, _ := v.([]queue.Outcome)
	if err != nil {
		logging.ErrorWithCode("Queue drain failed", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"trigger": string(trigger)})
	}
	return outcomes, err
}

func (l *Loop) cleanup(ctx context.Context) {
	if _, err := l.queue.Cleanup(ctx, l.cfg.MaxAge); err != nil {
		logging.Error("Queue cleanup failed", err)
	}
}

func (l *Loop) fetchCurrent(ctx context.Context) netstate.Status {
	status, err := l.signal.FetchCurrent(ctx)
	if err != nil {
		logging.Warn("Connectivity read failed, assuming offline", map[string]interface{}{"error": err.Error()})
		return netstate.Status{IsConnected: false, Type: netstate.TypeUnknown}
	}
	return status
}

func (l *Loop) logSummary(trigger Trigger, outcomes []queue.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	counts := make(map[string]interface{}, 5)
	counts["trigger"] = string(trigger)
	for _, o := range outcomes {
		n, _ := counts[string(o.Status)].(int)
		counts[string(o.Status)] = n + 1
	}
	logging.Info("Queue drain completed", counts)
}

// Status is a snapshot of the loop.
type Status struct {
	IsRunning       bool                  `json:"isRunning"`
	Network         netstate.NetworkState `json:"network"`
	DrainInProgress bool                  `json:"drainInProgress"`
	PendingRequests int                   `json:"pendingRequests"`
	LastDrainTime   *time.Time            `json:"lastDrainTime,omitempty"`
	LastTrigger     Trigger               `json:"lastTrigger,omitempty"`
	LastOutcomes    []queue.Outcome       `json:"lastOutcomes,omitempty"`
	Drains          int                   `json:"drains"`
}

// Status returns the current loop status.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		IsRunning:       l.isRunning,
		Network:         l.tracker.State(),
		DrainInProgress: l.queue.IsDraining(),
		PendingRequests: l.queue.Size(),
		LastTrigger:     l.lastTrigger,
		LastOutcomes:    append([]queue.Outcome(nil), l.lastOutcomes...),
		Drains:          l.drains,
	}
	if !l.lastDrainTime.IsZero() {
		t := l.lastDrainTime
		st.LastDrainTime = &t
	}
	return st
}

// IsRunning returns whether the loop has been started.
func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isRunning
}

// Package interaction holds the optimistic per-campaign interaction state
// (liked, participated) together with the cached campaigns it is shown on.
//
// Toggles are applied immediately and marked pending. Each pending toggle is
// later confirmed or rolled back when its queued request resolves. Server
// truth never overwrites a flag that is still pending.
package interaction

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/campaignsync/internal/db"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
)

// DefaultStaleAfter is how long a pending flag may stay unresolved before
// it is considered stuck.
const DefaultStaleAfter = 5 * time.Minute

// Store is the optimistic interaction store. All methods are safe for
// concurrent use and apply their change atomically.
type Store struct {
	mu           sync.Mutex
	saveMu       sync.Mutex
	interactions map[string]*models.UserInteraction
	campaigns    []*models.Campaign
	current      *models.Campaign
	lastFetched  map[string]int64

	kv         db.KVStore
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a Store. kv may be nil for a memory-only store.
func New(kv db.KVStore, staleAfter time.Duration) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{
		interactions: make(map[string]*models.UserInteraction),
		lastFetched:  make(map[string]int64),
		kv:           kv,
		staleAfter:   staleAfter,
		now:          time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ToggleLike flips the like flag away from currentlyLiked and returns the
// request kind to enqueue.
func (s *Store) ToggleLike(ctx context.Context, actorID, campaignID string, currentlyLiked bool) models.RequestKind {
	return s.Toggle(ctx, actorID, campaignID, models.AxisLike, currentlyLiked)
}

// ToggleJoin flips the participation flag away from currentlyJoined and
// returns the request kind to enqueue.
func (s *Store) ToggleJoin(ctx context.Context, actorID, campaignID string, currentlyJoined bool) models.RequestKind {
	return s.Toggle(ctx, actorID, campaignID, models.AxisParticipation, currentlyJoined)
}

// Toggle applies an optimistic flip on axis. The pre-mutation flags are
// snapshotted, replacing any earlier snapshot. Callers check
// HasPendingActions first.
func (s *Store) Toggle(ctx context.Context, actorID, campaignID string, axis models.Axis, current bool) models.RequestKind {
	s.mu.Lock()
	rec, created := s.record(campaignID)
	if created {
		if c := s.lookup(campaignID); c != nil {
			rec.Liked = c.Has(models.AxisLike, actorID)
			rec.Participated = c.Has(models.AxisParticipation, actorID)
		}
		rec.Set(axis, current)
	}
	rec.PreviousState = &models.Snapshot{
		Liked:        rec.Liked,
		Participated: rec.Participated,
		Timestamp:    s.now().UnixMilli(),
	}

	target := !current
	rec.Set(axis, target)
	rec.SetPending(axis, true)
	s.eachCopy(campaignID, func(c *models.Campaign) {
		c.SetMember(axis, actorID, target)
	})
	kind := models.KindFor(axis, current)
	s.mu.Unlock()

	logging.Info("Optimistic toggle applied", map[string]interface{}{
		"resource_id": campaignID,
		"actor_id":    actorID,
		"kind":        string(kind),
	})
	s.persist(ctx)
	return kind
}

// Confirm settles a succeeded request: the pending flag for the kind's axis
// is cleared and the snapshot dropped. Unknown campaigns are ignored.
func (s *Store) Confirm(ctx context.Context, campaignID string, kind models.RequestKind) {
	s.mu.Lock()
	rec, ok := s.interactions[campaignID]
	if !ok {
		s.mu.Unlock()
		return
	}
	changed := rec.Pending(kind.Axis()) || rec.PreviousState != nil
	rec.SetPending(kind.Axis(), false)
	rec.PreviousState = nil
	s.mu.Unlock()

	if changed {
		logging.Debug("Optimistic toggle confirmed", map[string]interface{}{
			"resource_id": campaignID,
			"kind":        string(kind),
		})
		s.persist(ctx)
	}
}

// Rollback reverts a failed request. With a snapshot, both flags are restored
// from it and cached membership is re-derived from the restored flags. With
// none, only the kind's own effect is inverted.
func (s *Store) Rollback(ctx context.Context, campaignID, actorID string, kind models.RequestKind) {
	s.mu.Lock()
	rec, ok := s.interactions[campaignID]

	switch {
	case ok && rec.PreviousState != nil:
		snap := rec.PreviousState
		rec.Liked = snap.Liked
		rec.Participated = snap.Participated
		rec.PendingLike = false
		rec.PendingParticipation = false
		rec.PreviousState = nil
		s.eachCopy(campaignID, func(c *models.Campaign) {
			c.SetMember(models.AxisLike, actorID, snap.Liked)
			c.SetMember(models.AxisParticipation, actorID, snap.Participated)
		})

	default:
		prior := !kind.Target()
		if ok {
			rec.Set(kind.Axis(), prior)
			rec.SetPending(kind.Axis(), false)
		}
		s.eachCopy(campaignID, func(c *models.Campaign) {
			c.SetMember(kind.Axis(), actorID, prior)
		})
	}
	s.mu.Unlock()

	logging.Warn("Optimistic toggle rolled back", map[string]interface{}{
		"resource_id": campaignID,
		"actor_id":    actorID,
		"kind":        string(kind),
		"snapshot":    ok,
	})
	s.persist(ctx)
}

// MergeServerTruth applies fetched interaction flags. A flag whose axis is
// pending keeps its local optimistic value.
func (s *Store) MergeServerTruth(ctx context.Context, truth map[string]models.ServerInteraction) {
	if len(truth) == 0 {
		return
	}
	s.mu.Lock()
	s.mergeLocked(truth)
	s.mu.Unlock()
	s.persist(ctx)
}

func (s *Store) mergeLocked(truth map[string]models.ServerInteraction) {
	for id, v := range truth {
		rec, _ := s.record(id)
		if !rec.PendingLike {
			rec.Liked = v.Liked
		}
		if !rec.PendingParticipation {
			rec.Participated = v.Participated
		}
	}
}

// HasPendingActions reports whether either axis of the campaign awaits
// reconciliation.
func (s *Store) HasPendingActions(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.interactions[campaignID]
	return ok && rec.AnyPending()
}

// HasStalePendingActions reports whether a pending flag has outlived the
// stale threshold. A pending flag with no snapshot to date it counts as stale.
func (s *Store) HasStalePendingActions(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.interactions[campaignID]
	if !ok || !rec.AnyPending() {
		return false
	}
	if rec.PreviousState == nil {
		return true
	}
	age := s.now().Sub(time.UnixMilli(rec.PreviousState.Timestamp))
	return age > s.staleAfter
}

// ResetPendingState clears stuck pending flags and the snapshot but keeps
// the optimistic values, treating the lost confirmation as a success.
func (s *Store) ResetPendingState(ctx context.Context, campaignID string) {
	s.mu.Lock()
	rec, ok := s.interactions[campaignID]
	if !ok {
		s.mu.Unlock()
		return
	}
	logCtx := map[string]interface{}{
		"resource_id":           campaignID,
		"pending_like":          rec.PendingLike,
		"pending_participation": rec.PendingParticipation,
	}
	rec.PendingLike = false
	rec.PendingParticipation = false
	rec.PreviousState = nil
	s.mu.Unlock()

	logging.Warn("Reset stale pending state", logCtx)
	s.persist(ctx)
}

// Interaction returns a copy of the campaign's interaction state.
func (s *Store) Interaction(campaignID string) (models.UserInteraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.interactions[campaignID]
	if !ok {
		return models.UserInteraction{}, false
	}
	return copyInteraction(rec), true
}

// Interactions returns copies of every interaction record.
func (s *Store) Interactions() map[string]models.UserInteraction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.UserInteraction, len(s.interactions))
	for id, rec := range s.interactions {
		out[id] = copyInteraction(rec)
	}
	return out
}

// record returns the interaction for id, creating it when missing.
func (s *Store) record(id string) (*models.UserInteraction, bool) {
	if rec, ok := s.interactions[id]; ok {
		return rec, false
	}
	rec := &models.UserInteraction{}
	s.interactions[id] = rec
	return rec, true
}

// eachCopy applies fn to the list copy and the current copy of a campaign.
func (s *Store) eachCopy(campaignID string, fn func(*models.Campaign)) {
	for _, c := range s.campaigns {
		if c.ID == campaignID {
			fn(c)
		}
	}
	if s.current != nil && s.current.ID == campaignID {
		fn(s.current)
	}
}

func copyInteraction(rec *models.UserInteraction) models.UserInteraction {
	cp := *rec
	if rec.PreviousState != nil {
		snap := *rec.PreviousState
		cp.PreviousState = &snap
	}
	return cp
}

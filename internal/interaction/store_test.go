package interaction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kimhsiao/campaignsync/internal/db"
	"github.com/kimhsiao/campaignsync/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock, *db.MemoryStore) {
	t.Helper()
	kv := db.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := New(kv, 0)
	s.SetClock(clock.Now)
	return s, clock, kv
}

func seed(s *Store, actorID string, campaigns ...models.Campaign) {
	s.IngestList(context.Background(), actorID, campaigns)
}

func beach() models.Campaign {
	return models.Campaign{
		ID:                "c1",
		Title:             "Beach cleanup",
		Likers:            []string{"u2"},
		LikersCount:       1,
		Participants:      []string{"u2", "u3"},
		ParticipantsCount: 2,
	}
}

func assertConsistent(t *testing.T, s *Store, id, actorID string) {
	t.Helper()
	c, ok := s.Campaign(id)
	if !ok {
		t.Fatalf("campaign %s not cached", id)
	}
	if !c.Consistent() {
		t.Errorf("counters out of sync: %+v", c)
	}
	rec, _ := s.Interaction(id)
	if c.Has(models.AxisLike, actorID) != rec.Liked {
		t.Errorf("likers membership %v disagrees with liked=%v", c.Likers, rec.Liked)
	}
	if c.Has(models.AxisParticipation, actorID) != rec.Participated {
		t.Errorf("participants membership %v disagrees with participated=%v", c.Participants, rec.Participated)
	}
}

// =====================================================
// Toggle Tests
// =====================================================

// TestToggleLike verifies the optimistic flip, snapshot and counters.
func TestToggleLike(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())

	kind := s.ToggleLike(ctx, "u1", "c1", false)
	if kind != models.KindLike {
		t.Errorf("ToggleLike() kind = %q, want like", kind)
	}

	rec, ok := s.Interaction("c1")
	if !ok || !rec.Liked || !rec.PendingLike || rec.PendingParticipation {
		t.Fatalf("interaction = %+v", rec)
	}
	if rec.PreviousState == nil || rec.PreviousState.Liked || rec.PreviousState.Timestamp != clock.t.UnixMilli() {
		t.Errorf("snapshot = %+v", rec.PreviousState)
	}

	c, _ := s.Campaign("c1")
	if c.LikersCount != 2 || !c.Has(models.AxisLike, "u1") {
		t.Errorf("campaign = %+v", c)
	}
	assertConsistent(t, s, "c1", "u1")
	if !s.HasPendingActions("c1") {
		t.Error("HasPendingActions() should be true")
	}
}

// TestToggleJoin verifies leaving a joined campaign.
func TestToggleJoin(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u2", beach())

	if kind := s.ToggleJoin(ctx, "u2", "c1", true); kind != models.KindUnparticipate {
		t.Errorf("ToggleJoin() kind = %q, want unparticipate", kind)
	}

	rec, _ := s.Interaction("c1")
	if rec.Participated || !rec.PendingParticipation {
		t.Errorf("interaction = %+v", rec)
	}
	c, _ := s.Campaign("c1")
	if c.ParticipantsCount != 1 || c.Has(models.AxisParticipation, "u2") {
		t.Errorf("campaign = %+v", c)
	}
	assertConsistent(t, s, "c1", "u2")
}

// TestToggle_updatesCurrentCopy verifies list and current copies both move.
func TestToggle_updatesCurrentCopy(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.IngestCampaign(ctx, "u1", beach())

	s.ToggleLike(ctx, "u1", "c1", false)

	current, _ := s.Campaign("c1")
	listed := s.Campaigns()[0]
	if current.LikersCount != 2 || listed.LikersCount != 2 {
		t.Errorf("counts current=%d listed=%d, want 2 and 2", current.LikersCount, listed.LikersCount)
	}
}

// TestToggle_counterClampedAtZero verifies counters never go negative.
func TestToggle_counterClampedAtZero(t *testing.T) {
	s, _, _ := newTestStore(t)
	seed(s, "u1", models.Campaign{ID: "c2"})

	s.ToggleLike(context.Background(), "u1", "c2", true)

	c, _ := s.Campaign("c2")
	if c.LikersCount != 0 {
		t.Errorf("LikersCount = %d, want 0", c.LikersCount)
	}
}

// =====================================================
// Reconciliation Tests
// =====================================================

// TestConfirm_idempotent verifies a second confirm changes nothing.
func TestConfirm_idempotent(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.ToggleLike(ctx, "u1", "c1", false)

	s.Confirm(ctx, "c1", models.KindLike)
	first, _ := s.Interaction("c1")
	firstCampaign, _ := s.Campaign("c1")

	s.Confirm(ctx, "c1", models.KindLike)
	second, _ := s.Interaction("c1")
	secondCampaign, _ := s.Campaign("c1")

	if first.PendingLike || first.PreviousState != nil || !first.Liked {
		t.Errorf("after confirm = %+v", first)
	}
	if first.Liked != second.Liked || first.PendingLike != second.PendingLike || second.PreviousState != nil {
		t.Errorf("second confirm changed state: %+v → %+v", first, second)
	}
	if firstCampaign.LikersCount != secondCampaign.LikersCount {
		t.Error("second confirm changed counters")
	}

	s.Confirm(ctx, "unknown", models.KindLike)
	if _, ok := s.Interaction("unknown"); ok {
		t.Error("Confirm() must not create records")
	}
}

// TestRollback_restoresSnapshot verifies exact restoration across sequences.
func TestRollback_restoresSnapshot(t *testing.T) {
	type step struct {
		axis    models.Axis
		current bool
	}
	tests := []struct {
		name     string
		actor    string
		steps    []step
		rollback models.RequestKind
		want     models.Snapshot
	}{
		{
			name:     "like then rollback",
			actor:    "u1",
			steps:    []step{{models.AxisLike, false}},
			rollback: models.KindLike,
			want:     models.Snapshot{Liked: false, Participated: false},
		},
		{
			name:     "unlike then rollback",
			actor:    "u2",
			steps:    []step{{models.AxisLike, true}},
			rollback: models.KindUnlike,
			want:     models.Snapshot{Liked: true, Participated: true},
		},
		{
			name:     "leave then rollback",
			actor:    "u3",
			steps:    []step{{models.AxisParticipation, true}},
			rollback: models.KindUnparticipate,
			want:     models.Snapshot{Liked: false, Participated: true},
		},
		{
			name:  "rapid like and join, last snapshot wins",
			actor: "u1",
			steps: []step{
				{models.AxisLike, false},
				{models.AxisParticipation, false},
			},
			rollback: models.KindParticipate,
			want:     models.Snapshot{Liked: true, Participated: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestStore(t)
			ctx := context.Background()
			seed(s, tt.actor, beach())

			for _, st := range tt.steps {
				s.Toggle(ctx, tt.actor, "c1", st.axis, st.current)
			}
			s.Rollback(ctx, "c1", tt.actor, tt.rollback)

			rec, _ := s.Interaction("c1")
			if rec.Liked != tt.want.Liked || rec.Participated != tt.want.Participated {
				t.Errorf("after rollback liked=%v participated=%v, want %+v", rec.Liked, rec.Participated, tt.want)
			}
			if rec.AnyPending() || rec.PreviousState != nil {
				t.Errorf("rollback left pending state: %+v", rec)
			}
			assertConsistent(t, s, "c1", tt.actor)
		})
	}
}

// TestRollback_restoresOriginalCounter verifies the like count returns to its
// pre-toggle value.
func TestRollback_restoresOriginalCounter(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())

	s.ToggleLike(ctx, "u1", "c1", false)
	s.Rollback(ctx, "c1", "u1", models.KindLike)

	c, _ := s.Campaign("c1")
	if c.LikersCount != 1 || c.Has(models.AxisLike, "u1") {
		t.Errorf("campaign = %+v, want original likers", c)
	}
}

// TestRollback_withoutSnapshot verifies the kind-based inversion fallback.
func TestRollback_withoutSnapshot(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())

	s.ToggleLike(ctx, "u1", "c1", false)
	s.Confirm(ctx, "c1", models.KindLike)
	s.Rollback(ctx, "c1", "u1", models.KindLike)

	rec, _ := s.Interaction("c1")
	if rec.Liked || rec.PendingLike {
		t.Errorf("interaction = %+v, want like inverted", rec)
	}
	assertConsistent(t, s, "c1", "u1")
}

// TestMergeServerTruth_respectsPending verifies pending flags shield local values.
func TestMergeServerTruth_respectsPending(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.ToggleLike(ctx, "u1", "c1", false)

	s.MergeServerTruth(ctx, map[string]models.ServerInteraction{"c1": {Liked: false, Participated: true}})
	rec, _ := s.Interaction("c1")
	if !rec.Liked {
		t.Error("merge overwrote a pending like")
	}
	if !rec.Participated {
		t.Error("merge should update the non-pending axis")
	}

	s.Confirm(ctx, "c1", models.KindLike)
	s.MergeServerTruth(ctx, map[string]models.ServerInteraction{"c1": {Liked: false, Participated: true}})
	rec, _ = s.Interaction("c1")
	if rec.Liked {
		t.Error("merge should apply once the like is settled")
	}
}

// TestIngestList_reappliesPending verifies a stale listing keeps optimistic membership.
func TestIngestList_reappliesPending(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.ToggleLike(ctx, "u1", "c1", false)

	clock.Advance(time.Second)
	seed(s, "u1", beach())

	rec, _ := s.Interaction("c1")
	c, _ := s.Campaign("c1")
	if !rec.Liked || !c.Has(models.AxisLike, "u1") || c.LikersCount != 2 {
		t.Errorf("pending like lost: rec=%+v campaign=%+v", rec, c)
	}
}

// TestIngestList_normalizesCounters verifies server counters are re-derived.
func TestIngestList_normalizesCounters(t *testing.T) {
	s, _, _ := newTestStore(t)
	seed(s, "", models.Campaign{ID: "c1", Likers: []string{"a", "b"}, LikersCount: 7})

	c, _ := s.Campaign("c1")
	if c.LikersCount != 2 {
		t.Errorf("LikersCount = %d, want 2", c.LikersCount)
	}
}

// =====================================================
// Staleness Tests
// =====================================================

// TestStalePendingActions verifies the stale threshold and reset.
func TestStalePendingActions(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.ToggleLike(ctx, "u1", "c1", false)

	clock.Advance(4 * time.Minute)
	if s.HasStalePendingActions("c1") {
		t.Error("pending action should not be stale after 4 minutes")
	}

	clock.Advance(2 * time.Minute)
	if !s.HasStalePendingActions("c1") {
		t.Fatal("pending action should be stale after 6 minutes")
	}

	s.ResetPendingState(ctx, "c1")
	rec, _ := s.Interaction("c1")
	if rec.AnyPending() || rec.PreviousState != nil {
		t.Errorf("reset left pending state: %+v", rec)
	}
	if !rec.Liked {
		t.Error("reset must keep the optimistic value")
	}
	if s.HasStalePendingActions("c1") || s.HasPendingActions("c1") {
		t.Error("nothing should be pending after reset")
	}
}

// TestFreshness verifies fetch bookkeeping.
func TestFreshness(t *testing.T) {
	s, clock, _ := newTestStore(t)
	if s.IsFresh(ListKey, 5*time.Minute) {
		t.Error("never-fetched listing should not be fresh")
	}

	seed(s, "u1", beach())
	if !s.IsFresh(ListKey, 5*time.Minute) {
		t.Error("listing should be fresh right after fetch")
	}
	if !s.LastFetched(ListKey).Equal(clock.t) {
		t.Errorf("LastFetched() = %v, want %v", s.LastFetched(ListKey), clock.t)
	}

	clock.Advance(5 * time.Minute)
	if s.IsFresh(ListKey, 5*time.Minute) {
		t.Error("listing should expire after the window")
	}
}

// =====================================================
// Persistence Tests
// =====================================================

// TestPersistence verifies state survives a restart with whitelisted fields.
func TestPersistence(t *testing.T) {
	s, _, kv := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.IngestCampaign(ctx, "u1", beach())
	s.ToggleLike(ctx, "u1", "c1", false)

	raw, ok, _ := kv.Get(ctx, db.KeyInteractions)
	if !ok {
		t.Fatal("interactions not persisted")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		t.Fatalf("stored state is not JSON: %v", err)
	}
	for _, key := range []string{"campaigns", "userInteractions", "lastFetched"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q", key)
		}
	}
	if len(fields) != 3 {
		t.Errorf("persisted %d fields, want 3: %s", len(fields), raw)
	}

	restored := New(kv, 0)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rec, ok := restored.Interaction("c1")
	if !ok || !rec.Liked || !rec.PendingLike || rec.PreviousState == nil {
		t.Errorf("restored interaction = %+v", rec)
	}
	c, ok := restored.Campaign("c1")
	if !ok || c.LikersCount != 2 {
		t.Errorf("restored campaign = %+v", c)
	}
	if restored.LastFetched(ListKey).IsZero() || restored.LastFetched("c1").IsZero() {
		t.Error("fetch times not restored")
	}
}

// TestReset verifies logout clears memory and storage.
func TestReset(t *testing.T) {
	s, _, kv := newTestStore(t)
	ctx := context.Background()
	seed(s, "u1", beach())
	s.ToggleLike(ctx, "u1", "c1", false)

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(s.Campaigns()) != 0 || len(s.Interactions()) != 0 {
		t.Error("Reset() left state in memory")
	}
	if _, ok, _ := kv.Get(ctx, db.KeyInteractions); ok {
		t.Error("Reset() left state in storage")
	}
}

package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/kimhsiao/campaignsync/internal/config"
	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/netstate"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeRemote struct {
	mu       sync.Mutex
	executed []string
	batches  int
}

func (f *fakeRemote) Execute(_ context.Context, req *models.QueuedRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req.Endpoint)
	return nil, nil
}

func (f *fakeRemote) ExecuteBatch(_ context.Context, reqs []*models.QueuedRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, r := range reqs {
		f.executed = append(f.executed, r.Endpoint)
	}
	return nil, nil
}

func (f *fakeRemote) FetchCampaigns(context.Context) ([]models.Campaign, error) {
	return []models.Campaign{{ID: "c1", Title: "Beach cleanup"}}, nil
}

func (f *fakeRemote) FetchCampaign(context.Context, string) (*models.Campaign, error) {
	return &models.Campaign{ID: "c1", Title: "Beach cleanup"}, nil
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func newTestApp(t *testing.T, kv db.KVStore, rem *fakeRemote) *App {
	t.Helper()
	a, err := New(Options{
		Store:     kv,
		Remote:    rem,
		LogOutput: io.Discard,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

// =====================================================
// Wiring Tests
// =====================================================

// TestNew_invalidConfig verifies validation runs before wiring.
func TestNew_invalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.MaxRetries = 0

	if _, err := New(Options{Config: cfg, Store: db.NewMemoryStore(), LogOutput: io.Discard}); !apperrors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("New() error = %v, want CONFIG_INVALID", err)
	}
}

// TestNew_sqliteStore verifies the default store is opened under Store.Path.
func TestNew_sqliteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = t.TempDir()

	a, err := New(Options{Config: cfg, Remote: &fakeRemote{}, LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, ok := a.KV.(*db.SQLiteStore); !ok {
		t.Errorf("KV = %T, want *db.SQLiteStore", a.KV)
	}
	if !a.Loop.IsRunning() {
		t.Error("loop should run after Start()")
	}
	// a second Start leaves the running loop alone
	if err := a.Start(ctx); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if err := a.KV.Set(ctx, db.KeyUserID, "u1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// TestSetConnectivity_externalSignal verifies the manual feed is exclusive.
func TestSetConnectivity_externalSignal(t *testing.T) {
	a, err := New(Options{
		Store:     db.NewMemoryStore(),
		Remote:    &fakeRemote{},
		Signal:    netstate.NewManual(netstate.Status{}),
		LogOutput: io.Discard,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.SetConnectivity(netstate.Status{IsConnected: true}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("SetConnectivity() error = %v, want INVALID_INPUT", err)
	}
}

// =====================================================
// Flow Tests
// =====================================================

// TestApp_offlineToggleThenReconnect runs a toggle through the whole stack.
func TestApp_offlineToggleThenReconnect(t *testing.T) {
	rem := &fakeRemote{}
	a := newTestApp(t, db.NewMemoryStore(), rem)
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res, err := a.Campaigns.ToggleLike(ctx, "u1", "c1", false)
	if err != nil || !res.Queued {
		t.Fatalf("ToggleLike() = %+v, %v", res, err)
	}
	if len(rem.calls()) != 0 {
		t.Fatal("offline toggle reached the remote")
	}

	if err := a.SetConnectivity(netstate.Status{IsConnected: true, Type: netstate.TypeWiFi}); err != nil {
		t.Fatalf("SetConnectivity() error = %v", err)
	}
	a.Loop.Wait()

	if calls := rem.calls(); len(calls) != 1 || calls[0] != "campaign/like/u1/c1" {
		t.Errorf("remote calls = %v", calls)
	}
	if a.Queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0", a.Queue.Size())
	}
	rec := a.Campaigns.Interaction("c1")
	if !rec.Liked || rec.PendingLike {
		t.Errorf("interaction = %+v, want confirmed like", rec)
	}
}

// TestApp_restoresAcrossRestart verifies queued work survives a restart.
func TestApp_restoresAcrossRestart(t *testing.T) {
	kv := db.NewMemoryStore()
	ctx := context.Background()

	first := newTestApp(t, kv, &fakeRemote{})
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first.Campaigns.ToggleJoin(ctx, "u1", "c1", false)
	first.Close(ctx)

	second := newTestApp(t, kv, &fakeRemote{})
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if second.Queue.Size() != 1 {
		t.Errorf("restored queue size = %d, want 1", second.Queue.Size())
	}
	if rec := second.Campaigns.Interaction("c1"); !rec.Participated || !rec.PendingParticipation {
		t.Errorf("restored interaction = %+v", rec)
	}
}

// TestApp_sessionAndLogout verifies logout wipes the queue, cache and session.
func TestApp_sessionAndLogout(t *testing.T) {
	kv := db.NewMemoryStore()
	a := newTestApp(t, kv, &fakeRemote{})
	ctx := context.Background()

	if err := a.SetSession(ctx, Session{UserID: "u1"}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("SetSession() without token error = %v", err)
	}
	if err := a.SetSession(ctx, Session{UserID: "u1", Token: "tok", Email: "u1@example.com"}); err != nil {
		t.Fatalf("SetSession() error = %v", err)
	}
	if id, _ := a.UserID(ctx); id != "u1" {
		t.Errorf("UserID() = %q", id)
	}

	a.Campaigns.ToggleLike(ctx, "u1", "c1", false)
	if err := a.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if a.Queue.Size() != 0 || len(a.Interactions.Interactions()) != 0 {
		t.Error("Logout() left local sync state behind")
	}
	for _, key := range []string{db.KeyAuthToken, db.KeyUserEmail, db.KeyUserID, db.KeyQueue, db.KeyInteractions} {
		if _, ok, _ := kv.Get(ctx, key); ok {
			t.Errorf("key %q survived logout", key)
		}
	}
}

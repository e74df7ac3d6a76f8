package queue

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
)

// persistedQueue is the stored form of the queue. Only these fields are
// written.
type persistedQueue struct {
	PendingRequests   []*models.QueuedRequest `json:"pendingRequests"`
	LastSyncTimestamp int64                   `json:"lastSyncTimestamp"`
}

func (e *Engine) save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	state := persistedQueue{
		PendingRequests:   make([]*models.QueuedRequest, 0, len(e.pending)),
		LastSyncTimestamp: e.lastSync,
	}
	for _, r := range e.pending {
		state.PendingRequests = append(state.PendingRequests, r.Clone())
	}
	e.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode queue", err)
	}
	if err := e.store.Set(ctx, db.KeyQueue, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "persist queue", err)
	}
	return nil
}

// Load replaces the in-memory queue with the persisted one. Entries with an
// unknown kind, no id, or a duplicate id are dropped.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}

	raw, ok, err := e.store.Get(ctx, db.KeyQueue)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStoreFailed, "read queue", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}

	var state persistedQueue
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStoreFailed, "decode queue", err)
	}

	seen := make(map[string]bool, len(state.PendingRequests))
	loaded := make([]*models.QueuedRequest, 0, len(state.PendingRequests))
	for _, r := range state.PendingRequests {
		if r == nil || r.ID == "" || seen[r.ID] || !r.Kind.Valid() {
			logging.Warn("Dropping unreadable queued request", map[string]interface{}{"entry": r})
			continue
		}
		seen[r.ID] = true
		loaded = append(loaded, r)
	}

	e.mu.Lock()
	e.pending = loaded
	e.lastSync = state.LastSyncTimestamp
	e.mu.Unlock()

	logging.Info("Queue restored", map[string]interface{}{"size": len(loaded)})
	return len(loaded), nil
}

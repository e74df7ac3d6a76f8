package interaction

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
)

// persistedState is the stored form. Only these fields are written; the
// current campaign is rebuilt from the listing or a fetch.
type persistedState struct {
	Campaigns        []*models.Campaign                 `json:"campaigns"`
	UserInteractions map[string]*models.UserInteraction `json:"userInteractions"`
	LastFetched      map[string]int64                   `json:"lastFetched"`
}

// Save writes the whitelisted state to the durable store.
func (s *Store) Save(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	state := persistedState{
		Campaigns:        make([]*models.Campaign, 0, len(s.campaigns)),
		UserInteractions: make(map[string]*models.UserInteraction, len(s.interactions)),
		LastFetched:      make(map[string]int64, len(s.lastFetched)),
	}
	for _, c := range s.campaigns {
		state.Campaigns = append(state.Campaigns, c.Clone())
	}
	for id, rec := range s.interactions {
		cp := copyInteraction(rec)
		state.UserInteractions[id] = &cp
	}
	for k, v := range s.lastFetched {
		state.LastFetched[k] = v
	}
	data, err := json.Marshal(state)
	s.mu.Unlock()

	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode interactions", err)
	}
	if err := s.kv.Set(ctx, db.KeyInteractions, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "persist interactions", err)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) {
	if err := s.Save(ctx); err != nil {
		logging.Error("Failed to persist interactions", err)
	}
}

// Load restores state written by Save. Counters are re-derived from the
// stored membership lists.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}

	raw, ok, err := s.kv.Get(ctx, db.KeyInteractions)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "read interactions", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var state persistedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "decode interactions", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.campaigns = s.campaigns[:0]
	for _, c := range state.Campaigns {
		if c == nil || c.ID == "" {
			continue
		}
		c.Normalize()
		s.campaigns = append(s.campaigns, c)
	}
	s.interactions = make(map[string]*models.UserInteraction, len(state.UserInteractions))
	for id, rec := range state.UserInteractions {
		if rec != nil {
			s.interactions[id] = rec
		}
	}
	s.lastFetched = make(map[string]int64, len(state.LastFetched))
	for k, v := range state.LastFetched {
		s.lastFetched[k] = v
	}

	logging.Info("Interactions restored", map[string]interface{}{
		"campaigns":    len(s.campaigns),
		"interactions": len(s.interactions),
	})
	return nil
}

// Reset wipes memory and durable state, e.g. on logout.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.interactions = make(map[string]*models.UserInteraction)
	s.campaigns = nil
	s.current = nil
	s.lastFetched = make(map[string]int64)
	s.mu.Unlock()

	logging.Info("Interactions reset")

	if s.kv == nil {
		return nil
	}
	if err := s.kv.Remove(ctx, db.KeyInteractions); err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "clear interactions", err)
	}
	return nil
}

package interaction

import (
	"context"
	"time"

	"github.com/kimhsiao/campaignsync/internal/models"
)

// ListKey is the lastFetched key of the campaign listing. Details are keyed
// by campaign id.
const ListKey = "display"

// IngestList replaces the cached listing with a fresh fetch. Server truth for
// actorID is derived from membership and merged, then any still-pending
// optimistic flag is re-applied to the fresh membership lists.
func (s *Store) IngestList(ctx context.Context, actorID string, list []models.Campaign) {
	s.mu.Lock()
	fresh := make([]*models.Campaign, 0, len(list))
	truth := make(map[string]models.ServerInteraction, len(list))
	for i := range list {
		c := list[i].Clone()
		c.Normalize()
		fresh = append(fresh, c)
		if actorID != "" {
			truth[c.ID] = serverTruth(c, actorID)
		}
		if s.current != nil && s.current.ID == c.ID {
			s.current = c.Clone()
		}
	}
	s.campaigns = fresh
	s.mergeLocked(truth)
	s.reapplyPending(actorID)
	s.lastFetched[ListKey] = s.now().UnixMilli()
	s.mu.Unlock()

	s.persist(ctx)
}

// IngestCampaign stores a freshly fetched campaign as the current one and
// refreshes its listing copy.
func (s *Store) IngestCampaign(ctx context.Context, actorID string, campaign models.Campaign) {
	s.mu.Lock()
	c := campaign.Clone()
	c.Normalize()
	s.current = c
	for i, existing := range s.campaigns {
		if existing.ID == c.ID {
			s.campaigns[i] = c.Clone()
		}
	}
	if actorID != "" {
		s.mergeLocked(map[string]models.ServerInteraction{c.ID: serverTruth(c, actorID)})
	}
	s.reapplyPending(actorID)
	s.lastFetched[c.ID] = s.now().UnixMilli()
	s.mu.Unlock()

	s.persist(ctx)
}

// Campaigns returns copies of the cached listing.
func (s *Store) Campaigns() []models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, *c.Clone())
	}
	return out
}

// Campaign returns a copy of a cached campaign, preferring the current copy.
func (s *Store) Campaign(id string) (models.Campaign, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.lookup(id); c != nil {
		return *c.Clone(), true
	}
	return models.Campaign{}, false
}

// LastFetched returns when key was last fetched, or zero.
func (s *Store) LastFetched(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.lastFetched[key]
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// IsFresh reports whether key was fetched within maxAge.
func (s *Store) IsFresh(key string, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.lastFetched[key]
	if !ok {
		return false
	}
	return s.now().Sub(time.UnixMilli(ms)) < maxAge
}

func (s *Store) lookup(id string) *models.Campaign {
	if s.current != nil && s.current.ID == id {
		return s.current
	}
	for _, c := range s.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) reapplyPending(actorID string) {
	if actorID == "" {
		return
	}
	apply := func(c *models.Campaign) {
		rec, ok := s.interactions[c.ID]
		if !ok {
			return
		}
		for _, axis := range []models.Axis{models.AxisLike, models.AxisParticipation} {
			if rec.Pending(axis) {
				c.SetMember(axis, actorID, rec.Value(axis))
			}
		}
	}
	for _, c := range s.campaigns {
		apply(c)
	}
	if s.current != nil {
		apply(s.current)
	}
}

func serverTruth(c *models.Campaign, actorID string) models.ServerInteraction {
	return models.ServerInteraction{
		Liked:        c.Has(models.AxisLike, actorID),
		Participated: c.Has(models.AxisParticipation, actorID),
	}
}

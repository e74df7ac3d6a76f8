// Package campaign is the action facade consumed by the UI layer: toggles
// guarded by the pending-action check, and list/detail reads behind a
// freshness window.
package campaign

import (
	"context"
	"time"

	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/interaction"
	"github.com/kimhsiao/campaignsync/internal/logging"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/remote"
	"github.com/kimhsiao/campaignsync/internal/sync/queue"
)

// DefaultFreshness is how long a fetched listing or detail is served from
// cache without refetching.
const DefaultFreshness = 5 * time.Minute

// Fetcher reads campaigns from the remote API. *remote.Client implements it.
type Fetcher interface {
	FetchCampaigns(ctx context.Context) ([]models.Campaign, error)
	FetchCampaign(ctx context.Context, id string) (*models.Campaign, error)
}

// Connectivity reports whether a fetch is worth attempting.
type Connectivity interface {
	IsConnected() bool
}

// ToggleResult reports what a toggle did.
type ToggleResult struct {
	Kind      models.RequestKind `json:"kind,omitempty"`
	RequestID string             `json:"requestId,omitempty"`
	Executed  bool               `json:"executed"`
	Queued    bool               `json:"queued"`
	Skipped   bool               `json:"skipped"`
}

// Service is the action facade.
type Service struct {
	store     *interaction.Store
	queue     *queue.Engine
	fetcher   Fetcher
	net       Connectivity
	freshness time.Duration
}

// NewService creates a Service.
func NewService(store *interaction.Store, q *queue.Engine, fetcher Fetcher, net Connectivity, freshness time.Duration) *Service {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Service{
		store:     store,
		queue:     q,
		fetcher:   fetcher,
		net:       net,
		freshness: freshness,
	}
}

// ToggleLike flips the like on a campaign for actorID. Network conditions
// never produce an error; only invalid input does.
func (s *Service) ToggleLike(ctx context.Context, actorID, campaignID string, currentlyLiked bool) (ToggleResult, error) {
	return s.toggle(ctx, actorID, campaignID, models.AxisLike, currentlyLiked)
}

// ToggleJoin flips participation in a campaign for actorID.
func (s *Service) ToggleJoin(ctx context.Context, actorID, campaignID string, currentlyJoined bool) (ToggleResult, error) {
	return s.toggle(ctx, actorID, campaignID, models.AxisParticipation, currentlyJoined)
}

func (s *Service) toggle(ctx context.Context, actorID, campaignID string, axis models.Axis, current bool) (ToggleResult, error) {
	if actorID == "" || campaignID == "" {
		return ToggleResult{}, apperrors.New(apperrors.ErrInvalid, "actor id and campaign id are required")
	}

	if s.store.HasPendingActions(campaignID) {
		if !s.store.HasStalePendingActions(campaignID) {
			logging.Debug("Toggle skipped, action pending", map[string]interface{}{
				"resource_id": campaignID,
				"axis":        string(axis),
			})
			return ToggleResult{Skipped: true}, nil
		}
		s.store.ResetPendingState(ctx, campaignID)
	}

	kind := s.store.Toggle(ctx, actorID, campaignID, axis, current)
	res, err := s.queue.Enqueue(ctx, queue.Request{
		Kind:       kind,
		Method:     models.MethodPatch,
		Endpoint:   remote.ToggleEndpoint(kind, actorID, campaignID),
		ResourceID: campaignID,
		ActorID:    actorID,
	})
	if err != nil {
		s.store.Rollback(ctx, campaignID, actorID, kind)
		return ToggleResult{}, err
	}

	return ToggleResult{
		Kind:      kind,
		RequestID: res.Request.ID,
		Executed:  res.Executed,
		Queued:    !res.Executed,
	}, nil
}

// GetList returns the campaign listing. A fetch happens only when forced or
// when the cache is older than the freshness window, and only while
// connected; otherwise the cache is returned as is. A failed fetch returns
// the cache together with the error.
func (s *Service) GetList(ctx context.Context, actorID string, forceRefresh bool) ([]models.Campaign, error) {
	if !forceRefresh && s.store.IsFresh(interaction.ListKey, s.freshness) {
		return s.store.Campaigns(), nil
	}
	if !s.net.IsConnected() {
		logging.Debug("Offline, serving cached campaigns")
		return s.store.Campaigns(), nil
	}

	list, err := s.fetcher.FetchCampaigns(ctx)
	if err != nil {
		logging.Warn("Campaign list fetch failed, serving cache", fetchFailure(err, map[string]interface{}{}))
		return s.store.Campaigns(), err
	}
	s.store.IngestList(ctx, actorID, list)
	return s.store.Campaigns(), nil
}

// GetByID returns one campaign under the same freshness policy as GetList.
// Offline with nothing cached it reports ErrOffline.
func (s *Service) GetByID(ctx context.Context, actorID, campaignID string, forceRefresh bool) (models.Campaign, error) {
	if campaignID == "" {
		return models.Campaign{}, apperrors.New(apperrors.ErrInvalid, "campaign id is required")
	}

	cached, ok := s.store.Campaign(campaignID)
	if !forceRefresh && ok && s.store.IsFresh(campaignID, s.freshness) {
		return cached, nil
	}
	if !s.net.IsConnected() {
		if ok {
			return cached, nil
		}
		return models.Campaign{}, apperrors.New(apperrors.ErrOffline, "campaign not cached and device is offline")
	}

	c, err := s.fetcher.FetchCampaign(ctx, campaignID)
	if err != nil {
		logging.Warn("Campaign fetch failed", fetchFailure(err, map[string]interface{}{
			"resource_id": campaignID,
		}))
		return cached, err
	}
	s.store.IngestCampaign(ctx, actorID, *c)
	fresh, _ := s.store.Campaign(campaignID)
	return fresh, nil
}

// Interaction returns the optimistic interaction state for a campaign.
func (s *Service) Interaction(campaignID string) models.UserInteraction {
	rec, _ := s.store.Interaction(campaignID)
	return rec
}

// SyncError returns the last failure message of a queued request for the
// campaign, for a non-blocking "tap to retry" hint.
func (s *Service) SyncError(campaignID string) (requestID, message string, ok bool) {
	errs := s.queue.SyncErrors()
	if len(errs) == 0 {
		return "", "", false
	}
	for _, r := range s.queue.List() {
		if r.Metadata.ResourceID != campaignID {
			continue
		}
		if msg, found := errs[r.ID]; found {
			return r.ID, msg, true
		}
	}
	return "", "", false
}

// RetryNow lets a failed request skip its backoff wait.
func (s *Service) RetryNow(ctx context.Context, requestID string) error {
	return s.queue.RetryNow(ctx, requestID)
}

func fetchFailure(err error, fields map[string]interface{}) map[string]interface{} {
	fields["error"] = err.Error()
	if code := remote.StatusCode(err); code != 0 {
		fields["http_status"] = code
	}
	return fields
}

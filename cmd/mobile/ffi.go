// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libcampaignsync.so (Android) / campaignsync.framework (iOS)
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kimhsiao/campaignsync/internal/app"
	"github.com/kimhsiao/campaignsync/internal/config"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/ids"
	"github.com/kimhsiao/campaignsync/internal/interaction"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/netstate"
)

var (
	coreMu  sync.RWMutex
	core    *app.App
	lastErr string
	lastMu  sync.RWMutex
)

//export Init
// Init starts the sync core with its store under dataDir. baseURL may be
// empty to keep the configured backend. Returns 0 on success.
func Init(dataDir, baseURL *C.char) int32 {
	coreMu.Lock()
	defer coreMu.Unlock()

	if core != nil {
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		setLastError(fmt.Sprintf("Failed to load config: %v", err))
		return 1
	}
	if dir := C.GoString(dataDir); dir != "" {
		cfg.Store.Path = dir
	}
	if url := C.GoString(baseURL); url != "" {
		cfg.Remote.BaseURL = url
	}

	a, err := app.New(app.Options{Config: cfg})
	if err != nil {
		setLastError(fmt.Sprintf("Failed to create core: %v", err))
		return 1
	}
	if err := a.Start(context.Background()); err != nil {
		a.Close(context.Background())
		setLastError(fmt.Sprintf("Failed to start core: %v", err))
		return 1
	}
	core = a
	return 0
}

//export Cleanup
// Cleanup stops the reconciliation loop and closes the store.
func Cleanup() {
	coreMu.Lock()
	defer coreMu.Unlock()

	if core != nil {
		core.Close(context.Background())
		core = nil
	}
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

func current() *app.App {
	coreMu.RLock()
	defer coreMu.RUnlock()
	if core == nil {
		setLastError("Core not initialized")
	}
	return core
}

func toJSON(v interface{}) *C.char {
	data, err := json.Marshal(v)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to serialize: %v", err))
		return nil
	}
	return C.CString(string(data))
}

// =====================================================
// Session Operations
// =====================================================

//export SetSession
// SetSession stores the signed-in user from a JSON object with userId,
// email, token and refreshToken. Returns 0 on success.
func SetSession(sessionJSON *C.char) int32 {
	a := current()
	if a == nil {
		return 1
	}

	var s app.Session
	if err := json.Unmarshal([]byte(C.GoString(sessionJSON)), &s); err != nil {
		setLastError(fmt.Sprintf("Invalid session: %v", err))
		return 1
	}
	if err := a.SetSession(context.Background(), s); err != nil {
		setLastError(err.Error())
		return 1
	}
	return 0
}

//export Logout
// Logout clears the session, the queue and the interaction cache.
func Logout() int32 {
	a := current()
	if a == nil {
		return 1
	}
	if err := a.Logout(context.Background()); err != nil {
		setLastError(err.Error())
		return 1
	}
	return 0
}

// =====================================================
// Lifecycle Operations
// =====================================================

//export SetConnectivity
// SetConnectivity forwards a platform connectivity event.
func SetConnectivity(connected int32, connectionType *C.char) {
	a := current()
	if a == nil {
		return
	}
	s := netstate.Status{
		IsConnected: connected != 0,
		Type:        netstate.ParseConnectionType(C.GoString(connectionType)),
	}
	if err := a.SetConnectivity(s); err != nil {
		setLastError(err.Error())
	}
}

//export OnForeground
// OnForeground reconciles after the app returns to the foreground.
func OnForeground() {
	if a := current(); a != nil {
		a.Loop.HandleForeground(context.Background())
	}
}

//export SyncStatus
// SyncStatus returns the reconciliation and queue status as JSON.
func SyncStatus() *C.char {
	a := current()
	if a == nil {
		return nil
	}
	return toJSON(map[string]interface{}{
		"reconcile":  a.Loop.Status(),
		"queue":      a.Queue.Stats(),
		"syncErrors": a.Queue.SyncErrors(),
	})
}

//export QueueList
// QueueList returns queued requests in drain order, optionally only one
// kind. Returns JSON that must be freed by the caller.
func QueueList(kind *C.char) *C.char {
	a := current()
	if a == nil {
		return nil
	}
	reqs := a.Queue.List()
	if name := C.GoString(kind); name != "" {
		k, err := models.ParseKind(name)
		if err != nil {
			setLastError(apperrors.Wrap(apperrors.ErrValidation, "invalid kind", err).Error())
			return nil
		}
		filtered := reqs[:0:0]
		for _, r := range reqs {
			if r.Kind == k {
				filtered = append(filtered, r)
			}
		}
		reqs = filtered
	}
	return toJSON(reqs)
}

//export PauseSync
// PauseSync stops queue processing until ResumeSync. Toggles still apply
// locally and queue.
func PauseSync() {
	if a := current(); a != nil {
		a.Queue.Pause()
	}
}

//export ResumeSync
// ResumeSync re-enables queue processing and drains when connected.
func ResumeSync() {
	a := current()
	if a == nil {
		return
	}
	a.Queue.Resume()
	if a.Tracker.IsConnected() {
		if _, err := a.Loop.Trigger(context.Background()); err != nil {
			setLastError(err.Error())
		}
	}
}

//export RetryRequest
// RetryRequest lets a failed request skip its backoff wait and drains.
func RetryRequest(requestID *C.char) int32 {
	a := current()
	if a == nil {
		return 1
	}
	id := C.GoString(requestID)
	if !ids.IsRequestID(id) {
		setLastError(apperrors.New(apperrors.ErrValidation, "malformed request id "+id).Error())
		return 1
	}
	ctx := context.Background()
	if err := a.Campaigns.RetryNow(ctx, id); err != nil {
		setLastError(err.Error())
		return 1
	}
	if _, err := a.Loop.Trigger(ctx); err != nil {
		setLastError(err.Error())
	}
	return 0
}

// =====================================================
// Campaign Operations
// =====================================================

//export ToggleLike
// ToggleLike flips the signed-in user's like on a campaign.
// Returns JSON that must be freed by the caller.
func ToggleLike(campaignID *C.char, currentlyLiked int32) *C.char {
	return toggle(models.AxisLike, C.GoString(campaignID), currentlyLiked != 0)
}

//export ToggleJoin
// ToggleJoin flips the signed-in user's participation in a campaign.
// Returns JSON that must be freed by the caller.
func ToggleJoin(campaignID *C.char, currentlyJoined int32) *C.char {
	return toggle(models.AxisParticipation, C.GoString(campaignID), currentlyJoined != 0)
}

func toggle(axis models.Axis, campaignID string, currently bool) *C.char {
	a := current()
	if a == nil {
		return nil
	}
	ctx := context.Background()
	actor, err := a.UserID(ctx)
	if err != nil {
		setLastError(err.Error())
		return nil
	}

	fn := a.Campaigns.ToggleLike
	if axis == models.AxisParticipation {
		fn = a.Campaigns.ToggleJoin
	}
	res, err := fn(ctx, actor, campaignID, currently)
	if err != nil {
		setLastError(err.Error())
		return nil
	}
	if res.Skipped {
		setLastError(apperrors.New(apperrors.ErrActionPending, "a previous toggle on "+campaignID+" is still pending").Error())
	}
	return toJSON(map[string]interface{}{
		"result":      res,
		"interaction": a.Campaigns.Interaction(campaignID),
	})
}

//export CampaignList
// CampaignList returns the campaign listing with interaction state.
// A failed fetch still returns the cache and sets the last error.
// Returns JSON that must be freed by the caller.
func CampaignList(forceRefresh int32) *C.char {
	a := current()
	if a == nil {
		return nil
	}
	ctx := context.Background()
	actor, err := a.UserID(ctx)
	if err != nil {
		setLastError(err.Error())
		return nil
	}

	list, err := a.Campaigns.GetList(ctx, actor, forceRefresh != 0)
	if err != nil {
		setLastError(err.Error())
	}
	out := map[string]interface{}{
		"campaigns":    list,
		"interactions": a.Interactions.Interactions(),
		"total":        len(list),
	}
	if at := a.Interactions.LastFetched(interaction.ListKey); !at.IsZero() {
		out["fetchedAt"] = at.UnixMilli()
	}
	return toJSON(out)
}

//export CampaignGet
// CampaignGet returns one campaign with its interaction state.
// Returns JSON that must be freed by the caller.
func CampaignGet(campaignID *C.char, forceRefresh int32) *C.char {
	a := current()
	if a == nil {
		return nil
	}
	ctx := context.Background()
	actor, err := a.UserID(ctx)
	if err != nil {
		setLastError(err.Error())
		return nil
	}

	id := C.GoString(campaignID)
	c, err := a.Campaigns.GetByID(ctx, actor, id, forceRefresh != 0)
	if err != nil {
		setLastError(err.Error())
		if c.ID == "" {
			return nil
		}
	}
	reqID, msg, failed := a.Campaigns.SyncError(id)
	out := map[string]interface{}{
		"campaign":    c,
		"interaction": a.Campaigns.Interaction(id),
	}
	if failed {
		out["syncError"] = map[string]string{"requestId": reqID, "message": msg}
	}
	return toJSON(out)
}

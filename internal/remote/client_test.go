package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *db.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := db.NewMemoryStore()
	return NewClient(srv.URL+"/", 2*time.Second, store), store
}

// =====================================================
// Route Tests
// =====================================================

// TestEndpoints verifies the route layout.
func TestEndpoints(t *testing.T) {
	if got := ToggleEndpoint(models.KindLike, "u1", "c1"); got != "campaign/like/u1/c1" {
		t.Errorf("ToggleEndpoint() = %q", got)
	}
	if got := ToggleEndpoint(models.KindUnparticipate, "u1", "c1"); got != "campaign/unparticipate/u1/c1" {
		t.Errorf("ToggleEndpoint() = %q", got)
	}
	if ListEndpoint() != "campaign/display" {
		t.Errorf("ListEndpoint() = %q", ListEndpoint())
	}
	if DetailEndpoint("c9") != "campaign/c9" {
		t.Errorf("DetailEndpoint() = %q", DetailEndpoint("c9"))
	}
	if BatchEndpoint(ResourceCampaign) != "batch/campaign" {
		t.Errorf("BatchEndpoint() = %q", BatchEndpoint(ResourceCampaign))
	}
}

// =====================================================
// Execute Tests
// =====================================================

// TestExecute_toggle verifies method, path, empty body and fresh headers.
func TestExecute_toggle(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotRefresh, gotEmail string
	var gotBody []byte

	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRefresh = r.Header.Get(HeaderRefreshToken)
		gotEmail = r.Header.Get(HeaderUserEmail)
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"ok":true}`))
	})

	ctx := context.Background()
	store.MultiSet(ctx, map[string]string{
		db.KeyAuthToken:    "tok-1",
		db.KeyRefreshToken: "ref-1",
		db.KeyUserEmail:    "u1@example.com",
	})

	req := &models.QueuedRequest{
		ID:       "like_1",
		Kind:     models.KindLike,
		Method:   models.MethodPatch,
		Endpoint: ToggleEndpoint(models.KindLike, "u1", "c1"),
	}

	raw, err := client.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("Execute() body = %s", raw)
	}
	if gotMethod != http.MethodPatch || gotPath != "/campaign/like/u1/c1" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if len(gotBody) != 0 {
		t.Errorf("toggle body = %q, want empty", gotBody)
	}
	if gotAuth != "Bearer tok-1" || gotRefresh != "ref-1" || gotEmail != "u1@example.com" {
		t.Errorf("headers = %q %q %q", gotAuth, gotRefresh, gotEmail)
	}

	// token rotation is picked up on the next call
	store.Set(ctx, db.KeyAuthToken, "tok-2")
	if _, err := client.Execute(ctx, req); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotAuth != "Bearer tok-2" {
		t.Errorf("Authorization = %q, want rotated token", gotAuth)
	}
}

// TestExecute_non2xx verifies status failures carry code and status.
func TestExecute_non2xx(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.Execute(context.Background(), &models.QueuedRequest{
		Method: models.MethodPatch, Endpoint: "campaign/like/u1/c1",
	})
	if !apperrors.Is(err, apperrors.ErrRemoteStatus) {
		t.Fatalf("Execute() error = %v, want REMOTE_STATUS", err)
	}
	if StatusCode(err) != http.StatusBadGateway {
		t.Errorf("StatusCode() = %d, want 502", StatusCode(err))
	}
}

// TestExecute_unauthorized verifies a logged-out session is an ordinary failure.
func TestExecute_unauthorized(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.Execute(context.Background(), &models.QueuedRequest{
		Method: models.MethodPatch, Endpoint: "campaign/like/u1/c1",
	})
	if StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("StatusCode() = %d, want 401", StatusCode(err))
	}
}

// TestExecute_timeout verifies the per-call timeout bounds a hung server.
func TestExecute_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, 50*time.Millisecond, db.NewMemoryStore())

	start := time.Now()
	_, err := client.Execute(context.Background(), &models.QueuedRequest{
		Method: models.MethodPatch, Endpoint: "campaign/like/u1/c1",
	})
	if !apperrors.Is(err, apperrors.ErrRemoteTimeout) {
		t.Fatalf("Execute() error = %v, want REMOTE_TIMEOUT", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Execute() did not honor the timeout")
	}
}

// TestExecute_transportFailure verifies a refused connection is a transport error.
func TestExecute_transportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, time.Second, nil)
	_, err := client.Execute(context.Background(), &models.QueuedRequest{
		Method: models.MethodPatch, Endpoint: "campaign/like/u1/c1",
	})
	if !apperrors.Is(err, apperrors.ErrRemoteTransport) {
		t.Errorf("Execute() error = %v, want REMOTE_TRANSPORT", err)
	}
}

// TestExecuteBatch verifies the combined call body.
func TestExecuteBatch(t *testing.T) {
	var got struct {
		Batch []BatchItem `json:"batch"`
	}
	var gotPath, gotMethod string

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	})

	reqs := []*models.QueuedRequest{
		{ID: "a", Kind: models.KindLike, Metadata: models.RequestMetadata{ResourceID: "c1", ActorID: "u1", Priority: 1}},
		{ID: "b", Kind: models.KindLike, Metadata: models.RequestMetadata{ResourceID: "c2", ActorID: "u1", Priority: 1}},
	}
	raw, err := client.ExecuteBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}
	if raw != nil {
		t.Errorf("ExecuteBatch() body = %s, want nil for 204", raw)
	}
	if gotMethod != http.MethodPost || gotPath != "/batch/campaign" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if len(got.Batch) != 2 || got.Batch[1].ID != "b" || got.Batch[1].Metadata.ResourceID != "c2" {
		t.Errorf("batch body = %+v", got.Batch)
	}
	if got.Batch[0].Action != models.KindLike {
		t.Errorf("batch action = %q", got.Batch[0].Action)
	}
}

// =====================================================
// Fetch Tests
// =====================================================

// TestFetchCampaigns verifies both array and envelope listings decode.
func TestFetchCampaigns(t *testing.T) {
	bodies := map[string]string{
		"array":    `[{"_id":"c1","title":"Beach","likers":["u1"],"likersCount":1}]`,
		"envelope": `{"campaigns":[{"_id":"c1","title":"Beach","likers":["u1"],"likersCount":1}]}`,
		"data":     `{"data":[{"_id":"c1","title":"Beach","likers":["u1"],"likersCount":1}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/campaign/display" || r.Method != http.MethodGet {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				w.Write([]byte(body))
			})

			list, err := client.FetchCampaigns(context.Background())
			if err != nil {
				t.Fatalf("FetchCampaigns() error = %v", err)
			}
			if len(list) != 1 || list[0].ID != "c1" || !list[0].Has(models.AxisLike, "u1") {
				t.Errorf("FetchCampaigns() = %+v", list)
			}
		})
	}
}

// TestFetchCampaign verifies detail decoding and decode failures.
func TestFetchCampaign(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/campaign/c1":
			w.Write([]byte(`{"campaign":{"_id":"c1","title":"Beach","participants":["u2"],"participantsCount":1}}`))
		case "/campaign/c2":
			w.Write([]byte(`{"_id":"c2","title":"Park"}`))
		default:
			w.Write([]byte(`not json`))
		}
	})
	ctx := context.Background()

	c1, err := client.FetchCampaign(ctx, "c1")
	if err != nil || c1.ID != "c1" || c1.ParticipantsCount != 1 {
		t.Errorf("FetchCampaign(c1) = %+v, %v", c1, err)
	}

	c2, err := client.FetchCampaign(ctx, "c2")
	if err != nil || c2.Title != "Park" {
		t.Errorf("FetchCampaign(c2) = %+v, %v", c2, err)
	}

	if _, err := client.FetchCampaign(ctx, "broken"); !apperrors.Is(err, apperrors.ErrRemoteDecode) {
		t.Errorf("FetchCampaign(broken) error = %v, want REMOTE_DECODE", err)
	}
}

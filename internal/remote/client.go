// Package remote is the HTTP client for the campaign API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kimhsiao/campaignsync/internal/db"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/telemetry"
)

// ResourceCampaign is the only resource type the core talks to.
const ResourceCampaign = "campaign"

const (
	HeaderRefreshToken = "X-Refresh-Token"
	HeaderUserEmail    = "X-User-Email"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// ToggleEndpoint returns the route for a toggle, e.g. campaign/like/u1/c1.
func ToggleEndpoint(kind models.RequestKind, actorID, resourceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", ResourceCampaign, kind, actorID, resourceID)
}

// ListEndpoint is the campaign listing route.
func ListEndpoint() string { return ResourceCampaign + "/display" }

// DetailEndpoint is the single campaign route.
func DetailEndpoint(id string) string { return ResourceCampaign + "/" + id }

// BatchEndpoint is the combined-call route for a resource type.
func BatchEndpoint(resourceType string) string { return "batch/" + resourceType }

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// BatchItem is one member of a batch call body.
type BatchItem struct {
	ID       string                 `json:"id"`
	Action   models.RequestKind     `json:"action"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Metadata models.RequestMetadata `json:"metadata"`
}

// Client calls the campaign API. Session headers are read from the store
// on every call since tokens rotate underneath the queue.
type Client struct {
	baseURL string
	http    *http.Client
	store   db.KVStore
	tracer  trace.Tracer
}

// NewClient creates a Client. timeout bounds every call so a drain cannot
// hang on one unresponsive request.
func NewClient(baseURL string, timeout time.Duration, store db.KVStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		store:   store,
		tracer:  telemetry.Tracer("remote"),
	}
}

// Execute performs a queued request. Toggle routes take an empty body;
// other requests send their payload as JSON.
func (c *Client) Execute(ctx context.Context, req *models.QueuedRequest) (json.RawMessage, error) {
	var body interface{}
	if len(req.Payload) > 0 {
		body = req.Payload
	}
	return c.do(ctx, req.Method, req.Endpoint, body)
}

// ExecuteBatch sends reqs as one combined call.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []*models.QueuedRequest) (json.RawMessage, error) {
	items := make([]BatchItem, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, BatchItem{
			ID:       r.ID,
			Action:   r.Kind,
			Data:     r.Payload,
			Metadata: r.Metadata,
		})
	}
	return c.do(ctx, models.MethodPost, BatchEndpoint(ResourceCampaign),
		map[string]interface{}{"batch": items})
}

// FetchCampaigns returns the campaign listing.
func (c *Client) FetchCampaigns(ctx context.Context) ([]models.Campaign, error) {
	raw, err := c.do(ctx, models.MethodGet, ListEndpoint(), nil)
	if err != nil {
		return nil, err
	}
	campaigns, err := decodeCampaigns(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteDecode, "decode campaign list", err)
	}
	return campaigns, nil
}

// FetchCampaign returns a single campaign.
func (c *Client) FetchCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	raw, err := c.do(ctx, models.MethodGet, DetailEndpoint(id), nil)
	if err != nil {
		return nil, err
	}
	campaign, err := decodeCampaign(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteDecode, "decode campaign", err)
	}
	return campaign, nil
}

func (c *Client) do(ctx context.Context, method models.Method, endpoint string, body interface{}) (_ json.RawMessage, err error) {
	ctx, span := c.tracer.Start(ctx, "remote.request", trace.WithAttributes(
		attribute.String("http.method", string(method)),
		attribute.String("remote.endpoint", endpoint),
	))
	status := 0
	defer func() { telemetry.EndSpan(span, err, attribute.Int("http.status_code", status)) }()

	var reader io.Reader
	if body != nil {
		data, mErr := json.Marshal(body)
		if mErr != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode request body", mErr)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(method), c.baseURL+"/"+endpoint, reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.Wrap(apperrors.ErrRemoteTimeout, endpoint, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrRemoteTransport, endpoint, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteTransport, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, apperrors.Wrap(apperrors.ErrRemoteStatus, endpoint,
			&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(snippet)})
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// authorize attaches the bearer token, refresh token and email, read fresh
// from the store. Missing values are simply omitted; the server decides.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.store == nil {
		return nil
	}
	session, err := c.store.MultiGet(ctx, db.KeyAuthToken, db.KeyRefreshToken, db.KeyUserEmail)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStoreFailed, "read session", err)
	}
	if tok := session[db.KeyAuthToken]; tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if ref := session[db.KeyRefreshToken]; ref != "" {
		req.Header.Set(HeaderRefreshToken, ref)
	}
	if email := session[db.KeyUserEmail]; email != "" {
		req.Header.Set(HeaderUserEmail, email)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// StatusCode extracts the HTTP status of a failed call, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func decodeCampaigns(raw json.RawMessage) ([]models.Campaign, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []models.Campaign
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}

	var envelope struct {
		Campaigns []models.Campaign `json:"campaigns"`
		Data      []models.Campaign `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Campaigns != nil {
		return envelope.Campaigns, nil
	}
	return envelope.Data, nil
}

func decodeCampaign(raw json.RawMessage) (*models.Campaign, error) {
	var envelope struct {
		Campaign *models.Campaign `json:"campaign"`
		Data     *models.Campaign `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	switch {
	case envelope.Campaign != nil:
		return envelope.Campaign, nil
	case envelope.Data != nil:
		return envelope.Data, nil
	}

	var c models.Campaign
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, errors.New("response carries no campaign id")
	}
	return &c, nil
}

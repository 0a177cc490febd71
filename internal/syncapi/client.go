// Package syncapi talks to the application's action sync endpoint: it
// submits one offline action at a time and maps the HTTP response onto
// the confirmed / retryable / conflict outcomes the orchestrator
// understands.
package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plazahq/realtime/internal/actions"
	"github.com/plazahq/realtime/internal/realtime"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client when
	// no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxResponseBytes = 1024 * 1024
)

// syncRequest is the body posted per action.
type syncRequest struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// syncResponse is the endpoint's verdict.
type syncResponse struct {
	Status      string          `json:"status"`
	ServerState json.RawMessage `json:"server_state,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the identity header cannot
// leak to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 && req.URL.Host != via[0].URL.Host {
		return fmt.Errorf("redirect to different host blocked: %s -> %s", via[0].URL.Host, req.URL.Host)
	}

	return nil
}

// Client submits offline actions to the sync endpoint over HTTP.
// Implements realtime.SyncEndpoint.
type Client struct {
	httpClient *http.Client
	url        string
	identity   string
}

// NewClient creates a sync endpoint client. If httpClient is nil, a
// client with a 30-second timeout and same-host redirect policy is
// created.
func NewClient(url, identity string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		url:        url,
		identity:   identity,
	}
}

// SyncAction posts one action and maps the response onto a sync
// outcome. Network errors and 5xx/429 responses are retryable; a 409
// or an explicit conflict status carries the authoritative server
// state back to the caller.
func (c *Client) SyncAction(ctx context.Context, a actions.Action) (realtime.SyncResult, error) {
	body, err := json.Marshal(syncRequest{
		ID:        a.ID,
		Type:      a.Type,
		Payload:   a.Payload,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return realtime.SyncResult{}, fmt.Errorf("marshalling action %s: %w", a.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return realtime.SyncResult{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.identity)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are retryable by nature.
		return realtime.SyncResult{}, fmt.Errorf("posting action %s: %w", a.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return realtime.SyncResult{}, fmt.Errorf("reading response for action %s: %w", a.ID, err)
	}

	if isRetryableStatus(resp.StatusCode) {
		return realtime.SyncResult{}, fmt.Errorf("sync endpoint returned status %d for action %s", resp.StatusCode, a.ID)
	}

	if resp.StatusCode == http.StatusConflict {
		var sr syncResponse
		_ = json.Unmarshal(respBody, &sr)

		return realtime.SyncResult{Outcome: realtime.OutcomeConflict, ServerState: sr.ServerState}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return realtime.SyncResult{}, fmt.Errorf("sync endpoint returned status %d for action %s", resp.StatusCode, a.ID)
	}

	var sr syncResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return realtime.SyncResult{}, fmt.Errorf("decoding response for action %s: %w", a.ID, err)
	}

	switch sr.Status {
	case "confirmed":
		return realtime.SyncResult{Outcome: realtime.OutcomeConfirmed}, nil
	case "conflict":
		return realtime.SyncResult{Outcome: realtime.OutcomeConflict, ServerState: sr.ServerState}, nil
	case "retry":
		return realtime.SyncResult{Outcome: realtime.OutcomeRetry}, nil
	default:
		return realtime.SyncResult{}, fmt.Errorf("sync endpoint returned unknown status %q: %s", sr.Status, sr.Error)
	}
}

// isRetryableStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

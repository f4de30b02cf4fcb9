package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
)

// HTTPClient talks to the sessionfeed REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting baseURL (e.g.
// "http://localhost:8080"). When token is non-empty it is sent as a bearer
// token on every request. A nil hc gets a client with a 30s timeout.
func NewHTTPClient(baseURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: hc,
	}
}

// Event is one event as delivered by the poll endpoint.
type Event struct {
	ID        int64           `json:"event_id"`
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode returns the typed payload for the event.
func (e Event) Decode() domain.Payload {
	return domain.DecodePayload(e.Type, e.Data)
}

type PollResponse struct {
	SessionID   int64               `json:"session_id"`
	Events      []Event             `json:"events"`
	EventCount  int                 `json:"event_count"`
	LastEventID int64               `json:"last_event_id"`
	OnlineUsers []domain.OnlineUser `json:"online_users"`
	OnlineCount int                 `json:"online_count"`
	Timestamp   int64               `json:"timestamp"`
}

type PublishResponse struct {
	EventID   int64  `json:"event_id"`
	SessionID int64  `json:"session_id"`
	EventType string `json:"event_type"`
}

type OnlineResponse struct {
	SessionID   int64               `json:"session_id"`
	OnlineUsers []domain.OnlineUser `json:"online_users"`
	OnlineCount int                 `json:"online_count"`
	StreamCount int                 `json:"stream_count"`
}

// Poll fetches events after cursor. wait is sent as the timeout hint in
// whole seconds; zero leaves it to the server default.
func (c *HTTPClient) Poll(ctx context.Context, sessionID, cursor int64, wait time.Duration) (*PollResponse, error) {
	q := url.Values{}
	q.Set("session_id", strconv.FormatInt(sessionID, 10))
	q.Set("last_event_id", strconv.FormatInt(cursor, 10))
	if wait > 0 {
		q.Set("timeout", strconv.Itoa(int(wait/time.Second)))
	}

	var resp PollResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/realtime/poll?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Publish(ctx context.Context, sessionID int64, eventType string, data json.RawMessage) (*PublishResponse, error) {
	body := map[string]any{"event_type": eventType}
	if len(data) > 0 {
		body["event_data"] = data
	}
	var resp PublishResponse
	path := fmt.Sprintf("/api/v1/sessions/%d/events", sessionID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Online(ctx context.Context, sessionID int64) (*OnlineResponse, error) {
	var resp OnlineResponse
	path := fmt.Sprintf("/api/v1/sessions/%d/online", sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// IsPermanent reports whether err is an APIError that retrying won't fix.
// Network failures, 5xx and 429 are all transient.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Permanent()
}

type envelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

// doJSON performs a request with an optional JSON body and unwraps the
// {"status","message","data"} envelope into result.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && env.Message != "" {
			msg := env.Message
			for field, m := range env.Errors {
				msg += fmt.Sprintf(" (%s: %s)", field, m)
			}
			return &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if decodeErr != nil {
		return fmt.Errorf("decoding response: %w", decodeErr)
	}
	if env.Status != "success" {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Publish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sessions/42/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body struct {
			EventType string          `json:"event_type"`
			EventData json.RawMessage `json:"event_data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "xp_awarded", body.EventType)
		assert.JSONEq(t, `{"character_id":7,"xp_amount":100}`, string(body.EventData))

		writeEnvelope(w, http.StatusCreated, "success", "Success", PublishResponse{
			EventID: 9, SessionID: 42, EventType: body.EventType,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "tok", nil)
	resp, err := c.Publish(context.Background(), 42, "xp_awarded", json.RawMessage(`{"character_id":7,"xp_amount":100}`))
	require.NoError(t, err)
	assert.Equal(t, int64(9), resp.EventID)
}

func TestHTTPClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","message":"Validation failed","errors":{"session_id":"Valid session ID required"}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	_, err := c.Poll(context.Background(), 0, 0, 0)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Validation failed")
	assert.Contains(t, apiErr.Message, "session_id")
	assert.False(t, IsPermanent(err))
}

func TestHTTPClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", nil).Online(context.Background(), 42)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: http.StatusUnauthorized}, true},
		{&APIError{StatusCode: http.StatusForbidden}, true},
		{&APIError{StatusCode: http.StatusNotFound}, true},
		{&APIError{StatusCode: http.StatusTooManyRequests}, false},
		{&APIError{StatusCode: http.StatusInternalServerError}, false},
		{fmt.Errorf("wrapped: %w", &APIError{StatusCode: http.StatusForbidden}), true},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPermanent(tt.err), "%v", tt.err)
	}
}

func TestHTTPClient_Online(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/42/online", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","message":"Success","data":{"session_id":42,"online_users":[{"user_id":2,"username":"mira"}],"online_count":1,"stream_count":3}}`)
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL, "", nil).Online(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.OnlineCount)
	assert.Equal(t, 3, resp.StreamCount)
}

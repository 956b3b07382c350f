package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/notify"
)

var testNotice = chronicle.MaintenanceNotice{
	Kind:       chronicle.NoticeEventsArchived,
	StreamID:   "Character-7",
	Count:      300,
	OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func TestPublisher_Notify_Success(t *testing.T) {
	var receivedBody []byte
	var receivedHeaders http.Header
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedHeaders = r.Header
		body, _ := io.ReadAll(r.Body)
		receivedBody = body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := New(server.URL)
	require.NoError(t, p.Notify(context.Background(), testNotice))

	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "application/json", receivedHeaders.Get("Content-Type"))
	assert.Equal(t, "events.archived", receivedHeaders.Get("X-Chronicle-Kind"))
	assert.Equal(t, "Character-7", receivedHeaders.Get("X-Chronicle-Stream-Id"))

	decoded, err := notify.Decode(receivedBody)
	require.NoError(t, err)
	assert.Equal(t, 300, decoded.Count)
	assert.Equal(t, "Character-7", decoded.StreamID)
}

func TestPublisher_Notify_Status(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr string
	}{
		{"ok", http.StatusOK, ""},
		{"no content", http.StatusNoContent, ""},
		{"client error", http.StatusBadRequest, "client error 400"},
		{"server error", http.StatusInternalServerError, "server error 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := New(server.URL).Notify(context.Background(), testNotice)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPublisher_Notify_NoURL(t *testing.T) {
	err := New("").Notify(context.Background(), testNotice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL not configured")
}

func TestPublisher_Notify_WithCustomHeaders(t *testing.T) {
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := New(server.URL, WithDefaultHeaders(map[string]string{
		"Authorization": "Bearer token-123",
	}))
	require.NoError(t, p.Notify(context.Background(), testNotice))

	assert.Equal(t, "Bearer token-123", receivedHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", receivedHeaders.Get("Content-Type"))
}

func TestPublisher_Notify_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(server.URL).Notify(ctx, testNotice)
	require.Error(t, err)
}

func TestPublisher_Options(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	p := New("http://example.com", WithHTTPClient(client))
	assert.Same(t, client, p.client)
	assert.Equal(t, "http://example.com", p.URL())

	p = New("http://example.com", WithTimeout(10*time.Second))
	assert.Equal(t, 10*time.Second, p.client.Timeout)
}

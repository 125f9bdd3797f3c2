package generator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat_ReturnsFirstChoiceContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"generated story text"}}]}`))
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "test-key", "gpt-4o")
	adapter.BaseDelay = time.Millisecond

	text, err := adapter.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 500)
	require.NoError(t, err)
	assert.Equal(t, "generated story text", text)
}

func TestChat_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok after retries"}}]}`))
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "test-key", "gpt-4o")
	adapter.BaseDelay = time.Millisecond
	adapter.MaxRetries = 5

	text, err := adapter.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 500)
	require.NoError(t, err)
	assert.Equal(t, "ok after retries", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestChat_ExhaustsRetriesOnPersistent5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "test-key", "gpt-4o")
	adapter.BaseDelay = time.Millisecond
	adapter.MaxRetries = 2

	_, err := adapter.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 500)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls)) // initial attempt + 2 retries
}

func TestChat_DoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "test-key", "gpt-4o")
	adapter.BaseDelay = time.Millisecond
	adapter.MaxRetries = 5

	_, err := adapter.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.7, 500)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

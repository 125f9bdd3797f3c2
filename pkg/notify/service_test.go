package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("RootDiscovered is no-op", func(_ *testing.T) {
		s.RootDiscovered(context.Background(), "Epic", "E1")
	})

	t.Run("RootRetired is no-op", func(_ *testing.T) {
		s.RootRetired(context.Background(), "Epic", "E1", "tracker gone")
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: "C123", DashboardURL: "https://example.com"})
		assert.NotNil(t, svc)
	})
}

func newFakeSlackServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700000000.000100"})
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": []any{}, "has_more": false})
	})
	return httptest.NewServer(mux)
}

func TestService_RootDiscovered_PostsMessage(t *testing.T) {
	srv := newFakeSlackServer(t)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client, "https://sync.example.com")
	require.NotNil(t, svc)

	svc.RootDiscovered(context.Background(), "Epic", "E1")
}

func TestService_RootRetired_PostsMessage(t *testing.T) {
	srv := newFakeSlackServer(t)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client, "https://sync.example.com")
	require.NotNil(t, svc)

	svc.RootRetired(context.Background(), "Epic", "E1", "exceeded consecutive error threshold")
}

package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"localmedia/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventHub_Broadcast(t *testing.T) {
	hub := NewEventHub(DefaultHubConfig(), zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	defer hub.Close()

	all := dial(t, srv, "")
	camOnly := dial(t, srv, "?controller=cam")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), &domain.LifecycleEvent{
		Type:       domain.EventCaptureStarted,
		Controller: "screen",
		StreamID:   "s1",
	}))
	require.NoError(t, hub.Publish(context.Background(), &domain.LifecycleEvent{
		Type:       domain.EventCaptureStopped,
		Controller: "cam",
		StreamID:   "s2",
	}))

	var first domain.LifecycleEvent
	all.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, all.ReadJSON(&first))
	assert.Equal(t, domain.EventCaptureStarted, first.Type)

	var filtered domain.LifecycleEvent
	camOnly.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, camOnly.ReadJSON(&filtered))
	assert.Equal(t, domain.EventCaptureStopped, filtered.Type)
	assert.Equal(t, domain.StreamID("s2"), filtered.StreamID)
}

func TestEventHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewEventHub(DefaultHubConfig(), zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventHub_CheckOrigin(t *testing.T) {
	hub := NewEventHub(HubConfig{AllowedOrigins: []string{"http://studio.local"}}, zap.NewNop().Sugar())

	req := httptest.NewRequest("GET", "/events", nil)
	req.Header.Set("Origin", "http://studio.local")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, hub.checkOrigin(req))
}

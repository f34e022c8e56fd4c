package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID uint, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, userID)
	}))
	t.Cleanup(srv.Close)

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestHubDeliversToUser(t *testing.T) {
	hub := NewHub([]string{"http://app.test"}, nil)
	conn, _, err := dialHub(t, hub, 7, "http://app.test")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.IsOnline(7) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.GetConnectedClients())
	assert.False(t, hub.IsOnline(8))

	require.NoError(t, hub.SendToUser(7, "booking_confirmed", map[string]uint{"rideId": 3}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "booking_confirmed", msg.Type)
	assert.JSONEq(t, `{"rideId":3}`, string(msg.Data))

	conn.Close()
	assert.Eventually(t, func() bool { return !hub.IsOnline(7) }, time.Second, 10*time.Millisecond)
}

func TestHubRejectsUnknownOrigin(t *testing.T) {
	hub := NewHub([]string{"http://app.test"}, nil)
	_, resp, err := dialHub(t, hub, 7, "http://evil.test")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, hub.IsOnline(7))
}

func TestBroadcastToOfflineUser(t *testing.T) {
	hub := NewHub(nil, nil)
	assert.Zero(t, hub.BroadcastToUser(1, []byte("{}")))
}

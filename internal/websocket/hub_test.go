package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindmail/backend/internal/notify"
)

func setupHub(t *testing.T, apiKey string) (*notify.Broker, *Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := notify.NewBroker(nil)
	hub := NewHub(nil, apiKey, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx, broker.Subscribe(16))

	router := gin.New()
	router.GET("/v1/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return broker, hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws"
}

func TestHub_BroadcastsEvents(t *testing.T) {
	broker, hub, url := setupHub(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(notify.Event{
		Type: notify.EventRemindersUpdated,
		Data: notify.RemindersUpdated{Count: 2, Purged: []string{"r-1"}},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type notify.EventType        `json:"type"`
		Data notify.RemindersUpdated `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, notify.EventRemindersUpdated, event.Type)
	assert.Equal(t, 2, event.Data.Count)
	assert.Equal(t, []string{"r-1"}, event.Data.Purged)
}

func TestHub_RepliesToPing(t *testing.T) {
	_, hub, url := setupHub(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Type: MessageTypePing}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply controlMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, MessageTypePong, reply.Type)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	_, hub, url := setupHub(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RequiresAPIKey(t *testing.T) {
	_, hub, url := setupHub(t, "s3cret")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?key=s3cret", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	header := http.Header{}
	header.Set("X-API-Key", "s3cret")
	conn2, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn2.Close()
}

func TestUpgraderCheckOrigin(t *testing.T) {
	upgrader := upgraderFactory([]string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
	assert.True(t, upgrader.CheckOrigin(req), "无 Origin 的请求放行")

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, upgrader.CheckOrigin(req))

	assert.True(t, upgraderFactory([]string{"*"}).CheckOrigin(req))
}

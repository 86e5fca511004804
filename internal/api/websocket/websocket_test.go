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
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

func testHub(cfg config.WebSocketConfig, origins []string) *Hub {
	return NewHub(cfg, origins, logger.New("error"))
}

func TestPublishReachesRegisteredClients(t *testing.T) {
	hub := testHub(config.WebSocketConfig{Enabled: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{hub: hub, send: make(chan []byte, sendBufferSize), principal: "local:admin"}
	hub.register <- client

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(&models.SecurityEvent{
		ID:      "evt-1",
		Type:    models.EventLoginSuccess,
		Message: "admin logged in",
	})

	select {
	case payload := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, models.EventLoginSuccess, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("event never reached the client")
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	hub := testHub(config.WebSocketConfig{Enabled: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// No buffer and nobody reading: the first broadcast must evict it.
	client := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(&models.SecurityEvent{ID: "evt-2", Type: models.EventPluginCreated})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// The send channel is closed on eviction.
	_, open := <-client.send
	assert.False(t, open)
}

func TestPublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := testHub(config.WebSocketConfig{Enabled: true}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBufferSize+10; i++ {
			hub.Publish(&models.SecurityEvent{ID: "evt", Type: models.EventLoginFailure})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stopped hub")
	}
}

func TestCheckOrigin(t *testing.T) {
	hub := testHub(config.WebSocketConfig{Enabled: true}, []string{"https://admin.example.com"})

	mkReq := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/v1/security/events", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, hub.checkOrigin(mkReq("", "ldap-admin.local")), "non-browser clients carry no origin")
	assert.True(t, hub.checkOrigin(mkReq("https://ldap-admin.local", "ldap-admin.local")), "same host")
	assert.True(t, hub.checkOrigin(mkReq("https://admin.example.com", "ldap-admin.local")), "configured origin")
	assert.False(t, hub.checkOrigin(mkReq("https://evil.example.com", "ldap-admin.local")))
	assert.False(t, hub.checkOrigin(mkReq("::notaurl", "ldap-admin.local")))
}

func TestServeEventsEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := testHub(config.WebSocketConfig{Enabled: true, PingInterval: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws/v1/security/events", hub.ServeEvents)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/security/events"
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(&models.SecurityEvent{
		ID:        "evt-3",
		Type:      models.EventPluginUpdated,
		Plugin:    "corp",
		Principal: "local:admin",
		Message:   "plugin corp updated",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, models.EventPluginUpdated, msg.Type)
}

func TestServeEventsConnectionCap(t *testing.T) {
	gin.SetMode(gin.TestMode)

	capped := testHub(config.WebSocketConfig{Enabled: true, MaxConnections: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go capped.Run(ctx)

	router := gin.New()
	router.GET("/ws/v1/security/events", capped.ServeEvents)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/security/events"
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return capped.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, resp2, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp2)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestServeEventsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := testHub(config.WebSocketConfig{Enabled: false}, nil)
	router := gin.New()
	router.GET("/ws/v1/security/events", hub.ServeEvents)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/v1/security/events", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

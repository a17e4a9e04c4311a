package controllers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trafficwatch/internal/middleware"
	"trafficwatch/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWebSocket_PingWhileHubStops(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := newFakeEngine(7788)
	hub := services.NewWebSocketHub(engine, nil, time.Hour)
	h := &Handler{Engine: engine, Hub: hub, Security: middleware.NewSecurityLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	r := gin.New()
	r.GET("/ws", h.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(services.WebSocketMessage{Type: "ping"}))
	var reply services.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Type)

	// keep pinging across the hub shutdown; the server must not crash
	pinging := make(chan struct{})
	go func() {
		defer close(pinging)
		for i := 0; i < 200; i++ {
			if err := conn.WriteJSON(services.WebSocketMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}()
	go func() {
		for {
			var msg services.WebSocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	}()

	cancel()
	<-hubDone
	<-pinging
	assert.Zero(t, hub.ClientCount())
}

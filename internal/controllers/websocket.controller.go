package controllers

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"trafficwatch/internal/middleware"
	"trafficwatch/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origin checks happen in the CORS middleware.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	clientSeq atomic.Uint64
)

// HandleWebSocket upgrades the request and streams stats until the client
// goes away. With auth enabled the token comes from ?token= or the header.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	name := "anonymous"
	if h.Auth != nil {
		token := middleware.BearerToken(c)
		if token == "" {
			h.Security.LogFailedAuth(c.ClientIP(), "missing websocket token")
			respond(c, http.StatusUnauthorized, false, "missing token")
			return
		}
		claims, err := h.Auth.ValidateToken(token)
		if err != nil {
			h.Security.LogFailedAuth(c.ClientIP(), err.Error())
			respond(c, http.StatusUnauthorized, false, "invalid token")
			return
		}
		name = claims.ClientName
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	h.Security.LogWebSocketConnected(c.ClientIP(), name)

	client := &services.ClientConnection{
		ID:   fmt.Sprintf("%s-%s-%d", c.ClientIP(), name, clientSeq.Add(1)),
		Conn: ws,
		Send: make(chan services.WebSocketMessage, 16),
	}
	if !h.Hub.Register(client) {
		ws.Close()
		return
	}

	go writePump(client)
	go readPump(client, h.Hub)
}

// readPump answers pings and detects disconnects
func readPump(client *services.ClientConnection, hub *services.WebSocketHub) {
	defer func() {
		hub.Unregister(client.ID)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(4096)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg services.WebSocketMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("client", client.ID).Debug("websocket read failed")
			}
			return
		}

		switch msg.Type {
		case "ping":
			client.Deliver(services.WebSocketMessage{Type: "pong", Timestamp: time.Now()})
		case "unsubscribe":
			return
		default:
			log.WithFields(log.Fields{"client": client.ID, "type": msg.Type}).Debug("ignoring websocket message")
		}
	}
}

// writePump is the only writer on the connection
func writePump(client *services.ClientConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

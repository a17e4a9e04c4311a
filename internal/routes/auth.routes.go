package routes

import (
	"trafficwatch/internal/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes registers the websocket stream. It validates its own
// token because browsers cannot set headers on websocket requests.
// Tokens are minted by the CLI only.
func RegisterAuthRoutes(r *gin.Engine, h *controllers.Handler) {
	r.GET("/ws", h.HandleWebSocket)
}

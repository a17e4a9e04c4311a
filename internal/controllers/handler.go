package controllers

import (
	"net/http"
	"strconv"

	"trafficwatch/internal/middleware"
	"trafficwatch/internal/models"
	"trafficwatch/internal/services"

	"github.com/gin-gonic/gin"
)

// TrafficEngine is everything the API needs from the accounting engine
type TrafficEngine interface {
	Ports() []int
	AddPort(port int) error
	RemovePort(port int) error
	ResetPort(port int) error
	PortStats(port int) models.PortStats
	AllPortStats() []models.PortStats
	Series(port int) []models.TrendPoint
	History(port int) map[string]models.StatRecord
	DailyRecords(port int) []models.DailyRecord
	Events() []models.Event
}

// Handler serves the HTTP API on top of one engine
type Handler struct {
	Engine   TrafficEngine
	System   *services.SystemMonitor
	Hub      *services.WebSocketHub
	Auth     *services.AuthService // nil when auth is disabled
	Security *middleware.SecurityLogger
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, success bool, message string) {
	c.JSON(status, result{Success: success, Message: message})
}

// portParam parses the :port path segment, answering 400 when it is unusable
func portParam(c *gin.Context) (int, bool) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil || !services.ValidPort(port) {
		respond(c, http.StatusBadRequest, false, "invalid port number")
		return 0, false
	}
	return port, true
}

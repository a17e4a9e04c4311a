package routes

import (
	"trafficwatch/internal/controllers"
	"trafficwatch/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterAPIRoutes mounts the traffic API. Reads are open; mutations sit
// behind guard.
func RegisterAPIRoutes(r *gin.Engine, h *controllers.Handler, guard gin.HandlerFunc) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/ports", h.GetPorts)
		api.GET("/stats", h.GetAllStats)
		api.GET("/stats/:port", h.GetStats)
		api.GET("/series/:port", h.GetSeries)
		api.GET("/history/:port", h.GetHistory)
		api.GET("/logs", h.GetLogs)
		api.GET("/export/:port", h.ExportCSV)
		api.GET("/system", h.GetSystem)
	}

	mutations := api.Group("", guard, middleware.AuditMutations(h.Security))
	{
		mutations.POST("/ports", h.AddPort)
		mutations.DELETE("/ports/:port", h.RemovePort)
		mutations.DELETE("/stats/:port", h.ResetStats)
	}
}

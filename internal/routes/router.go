package routes

import (
	"trafficwatch/internal/controllers"
	"trafficwatch/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RouterConfig holds the HTTP hardening knobs
type RouterConfig struct {
	AllowedOrigins []string
	AllowedIPs     []string
	RateLimit      float64
	RateBurst      int
}

// NewRouter assembles the gin engine with middleware and every route
func NewRouter(h *controllers.Handler, cfg RouterConfig) *gin.Engine {
	if h.Security == nil {
		h.Security = middleware.NewSecurityLogger()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 200
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.IPAllowListMiddleware(middleware.NewIPAllowList(cfg.AllowedIPs), h.Security))
	r.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst), h.Security))

	var validator middleware.TokenValidator
	if h.Auth != nil {
		validator = h.Auth
	}

	RegisterAPIRoutes(r, h, middleware.RequireToken(validator, h.Security))
	RegisterAuthRoutes(r, h)
	return r
}

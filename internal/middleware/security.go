package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter implements token bucket rate limiting per IP. Limiters of
// clients that went quiet expire so the table cannot grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *ttlcache.Cache[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests per second per IP
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limiters := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](limiterIdleTTL),
	)
	go limiters.Start()
	return &RateLimiter{limiters: limiters, rps: rate.Limit(rps), burst: burst}
}

// Stop ends the expiry loop
func (rl *RateLimiter) Stop() {
	rl.limiters.Stop()
}

// GetLimiter gets or creates a limiter for an IP address
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if item := rl.limiters.Get(ip); item != nil {
		return item.Value()
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limiters.Set(ip, limiter, ttlcache.DefaultTTL)
	return limiter
}

// RateLimitMiddleware enforces rate limiting per IP
func RateLimitMiddleware(limiter *RateLimiter, logger *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			logger.LogRateLimited(ip, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// CORSMiddleware reflects allowed origins. An empty list allows any origin,
// which suits a dashboard served from another local port.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimRight(c.GetHeader("Origin"), "/")

		if origin != "" && originAllowed(origin, allowedOrigins) {
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
			continue
		case o == "*" || o == origin:
			return true
		case !strings.Contains(o, "://"):
			// bare host[:port] entries match any scheme
			if parsed, err := url.Parse(origin); err == nil && parsed.Host == o {
				return true
			}
		}
	}
	return false
}

// IPAllowList restricts access to listed client IPs. Loopback is always
// allowed and an empty list allows everyone.
type IPAllowList struct {
	ips map[string]struct{}
}

func NewIPAllowList(ips []string) *IPAllowList {
	al := &IPAllowList{ips: make(map[string]struct{}, len(ips))}
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			al.ips[ip] = struct{}{}
		}
	}
	return al
}

// IsAllowed checks ip, which may carry a port
func (al *IPAllowList) IsAllowed(ip string) bool {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if parsed := net.ParseIP(ip); parsed != nil && parsed.IsLoopback() {
		return true
	}
	if len(al.ips) == 0 {
		return true
	}
	_, ok := al.ips[ip]
	return ok
}

// IPAllowListMiddleware rejects clients that are not on the list
func IPAllowListMiddleware(list *IPAllowList, logger *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !list.IsAllowed(ip) {
			logger.LogDenied(ip, "not on allow list")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "access denied"})
			return
		}
		c.Next()
	}
}

// SecurityLogger records security relevant events with a common field set
type SecurityLogger struct {
	entry *log.Entry
}

func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{entry: log.WithField("component", "security")}
}

func (sl *SecurityLogger) LogFailedAuth(ip, reason string) {
	sl.entry.WithFields(log.Fields{"ip": ip, "reason": reason}).Warn("failed authentication")
}

func (sl *SecurityLogger) LogDenied(ip, reason string) {
	sl.entry.WithFields(log.Fields{"ip": ip, "reason": reason}).Warn("access denied")
}

func (sl *SecurityLogger) LogRateLimited(ip, path string) {
	sl.entry.WithFields(log.Fields{"ip": ip, "path": path}).Warn("rate limit exceeded")
}

func (sl *SecurityLogger) LogWebSocketConnected(ip, client string) {
	sl.entry.WithFields(log.Fields{"ip": ip, "client": client}).Info("websocket connected")
}

func (sl *SecurityLogger) LogMutation(ip, method, path string) {
	sl.entry.WithFields(log.Fields{"ip": ip, "method": method, "path": path}).Info("state changing request")
}

package middleware

import (
	"net/http"
	"strings"

	"trafficwatch/internal/services"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// TokenValidator checks bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

// RequireToken rejects requests without a valid bearer token. A nil validator
// disables the check.
func RequireToken(validator TokenValidator, logger *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}

		token := BearerToken(c)
		if token == "" {
			logger.LogFailedAuth(c.ClientIP(), "missing token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing token"})
			return
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			logger.LogFailedAuth(c.ClientIP(), err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter browsers must use for websockets.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// ClaimsFrom returns the claims RequireToken stored on the context
func ClaimsFrom(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}

// AuditMutations logs every state changing request
func AuditMutations(logger *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			logger.LogMutation(c.ClientIP(), c.Request.Method, c.Request.URL.Path)
		}
		c.Next()
	}
}

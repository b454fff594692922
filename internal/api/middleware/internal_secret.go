package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cvforge/internal/errcode"
)

// InternalSecretMiddleware guards operator endpoints with a shared secret sent
// in X-Internal-Secret. Query parameters are not accepted since they end up in logs.
func InternalSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(secret) == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "internal api is disabled", "code": errcode.SystemError})
			return
		}
		token := strings.TrimSpace(c.GetHeader("X-Internal-Secret"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.AuthenticationRequired})
			return
		}
		c.Next()
	}
}

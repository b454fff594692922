package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cvforge/internal/errcode"
)

// UserIDKey is the gin context key holding the authenticated user id (uint).
const UserIDKey = "userID"

// TokenValidator resolves an access token to a user id.
type TokenValidator interface {
	ValidateAccessToken(token string) (uint, error)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.AuthenticationRequired})
}

// AuthMiddleware rejects requests without a valid bearer access token.
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present := bearerToken(c)
		if !present {
			abortUnauthorized(c)
			return
		}
		userID, err := tokens.ValidateAccessToken(token)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// OptionalAuthMiddleware sets the user id when a valid bearer token is sent and
// lets the request through otherwise, so handlers can order their own checks.
// A malformed or invalid token is still rejected.
func OptionalAuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		token, present := bearerToken(c)
		if !present {
			abortUnauthorized(c)
			return
		}
		userID, err := tokens.ValidateAccessToken(token)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], parts[1] != ""
}

// UserID returns the authenticated user id, if any.
func UserID(c *gin.Context) (uint, bool) {
	value, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok && id != 0
}

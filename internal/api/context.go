package api

import (
	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/draft"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	return middleware.UserID(c)
}

// callerFromContext combines the bearer identity and the anonymous cookie.
func callerFromContext(c *gin.Context) draft.Caller {
	userID, _ := middleware.UserID(c)
	return draft.Caller{
		UserID:      userID,
		AnonymousID: middleware.AnonymousID(c),
	}
}

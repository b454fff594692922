package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const anonymousIDKey = "anonymousID"

// AnonymousIDOptions configures the anonymous identity cookie.
type AnonymousIDOptions struct {
	CookieName string
	TTL        time.Duration
	Domain     string
	Secure     bool
}

// AnonymousIDMiddleware gives every visitor a stable anonymous id. A missing
// or malformed cookie is replaced by a fresh UUID; nothing is stored server-side.
func AnonymousIDMiddleware(opts AnonymousIDOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(opts.CookieName)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     opts.CookieName,
				Value:    id,
				Path:     "/",
				Domain:   opts.Domain,
				MaxAge:   int(opts.TTL.Seconds()),
				Expires:  time.Now().Add(opts.TTL),
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(anonymousIDKey, id)
		c.Next()
	}
}

// AnonymousID returns the visitor's anonymous id, or "" outside the middleware.
func AnonymousID(c *gin.Context) string {
	return c.GetString(anonymousIDKey)
}

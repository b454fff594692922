package api

import (
	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
)

// Handlers groups everything RegisterRoutes mounts.
type Handlers struct {
	Tokens         middleware.TokenValidator
	AnonymousID    middleware.AnonymousIDOptions
	InternalSecret string

	Drafts    *DraftHandler
	CVs       *CVHandler
	Templates *TemplateHandler
	Billing   *BillingHandler
	Auth      *AuthHandler
	Ws        *WsHandler
	Internal  *InternalHandler
}

// RegisterRoutes mounts the /v1 API.
func RegisterRoutes(router *gin.Engine, h Handlers) {
	requireAuth := middleware.AuthMiddleware(h.Tokens)
	optionalAuth := middleware.OptionalAuthMiddleware(h.Tokens)
	anonymous := middleware.AnonymousIDMiddleware(h.AnonymousID)

	v1 := router.Group("/v1")

	if h.Ws != nil {
		v1.GET("/ws", h.Ws.HandleConnection)
	}

	if h.Auth != nil {
		authGroup := v1.Group("/auth")
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", h.Auth.Logout)
	}

	// Claim and convert authenticate inside the service so that a missing
	// or expired draft is reported before a missing login.
	drafts := v1.Group("/drafts", anonymous)
	drafts.POST("", h.Drafts.Save)
	drafts.GET("/:id", optionalAuth, h.Drafts.Get)
	drafts.POST("/:id/claim", optionalAuth, h.Drafts.Claim)
	drafts.POST("/:id/convert", optionalAuth, h.Drafts.Convert)

	if h.CVs != nil {
		cvs := v1.Group("/cvs", requireAuth)
		cvs.POST("", h.CVs.Create)
		cvs.GET("", h.CVs.List)
		cvs.GET("/:id", h.CVs.Get)
		cvs.PUT("/:id", h.CVs.Update)
		cvs.DELETE("/:id", h.CVs.Delete)
		cvs.POST("/:id/publish", h.CVs.Publish)
		cvs.POST("/:id/unpublish", h.CVs.Unpublish)
		cvs.GET("/:id/photo-url", h.CVs.PhotoURL)
	}

	if h.Templates != nil {
		v1.GET("/templates", h.Templates.List)
		v1.GET("/templates/:id", h.Templates.Get)
	}

	if h.Billing != nil {
		v1.POST("/billing/webhook", h.Billing.Webhook)
		v1.POST("/billing/checkout/:sessionId/sync", requireAuth, h.Billing.SyncCheckout)
	}

	if h.Internal != nil {
		internal := v1.Group("/internal", middleware.InternalSecretMiddleware(h.InternalSecret))
		internal.POST("/drafts/:id/convert", h.Internal.ConvertDraft)
	}
}

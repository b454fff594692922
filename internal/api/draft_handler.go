package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api/middleware"
	"cvforge/internal/draft"
)

// DraftHandler serves the anonymous draft lifecycle endpoints.
type DraftHandler struct {
	service       *draft.Service
	redis         redis.UniversalClient
	writesPerHour int
}

func NewDraftHandler(service *draft.Service, redisClient redis.UniversalClient, writesPerHour int) *DraftHandler {
	return &DraftHandler{service: service, redis: redisClient, writesPerHour: writesPerHour}
}

type saveDraftResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	Reused    bool      `json:"reused"`
}

// Save validates the body and stores it as the visitor's active draft.
// Identical content before expiry returns the existing id with 200.
func (h *DraftHandler) Save(c *gin.Context) {
	anonID := middleware.AnonymousID(c)
	ctx := c.Request.Context()

	if !allowRate(ctx, h.redis, "rate:draft:"+anonID, h.writesPerHour, time.Hour) {
		TooManyRequests(c, "too many draft writes, try again later")
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		BadRequest(c, "unreadable body")
		return
	}
	payload, err := draft.ParsePayload(raw)
	if err != nil {
		DraftError(c, err)
		return
	}

	res, err := h.service.Save(ctx, anonID, payload)
	if err != nil {
		DraftError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Reused() {
		status = http.StatusOK
	}
	c.JSON(status, saveDraftResponse{ID: res.ID, ExpiresAt: res.ExpiresAt, Reused: res.Reused()})
}

// Get returns the draft to its owner for editing.
func (h *DraftHandler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), c.Param("id"), callerFromContext(c))
	if err != nil {
		DraftError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Claim binds the draft to the authenticated caller.
func (h *DraftHandler) Claim(c *gin.Context) {
	if err := h.service.Claim(c.Request.Context(), c.Param("id"), callerFromContext(c)); err != nil {
		DraftError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Convert creates the CV for the draft, or returns the one it already became.
func (h *DraftHandler) Convert(c *gin.Context) {
	caller := callerFromContext(c)
	res, err := h.service.Convert(c.Request.Context(), c.Param("id"), caller, draft.TriggerDirect)
	if err != nil {
		DraftError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	middleware.LoggerFromContext(c).Info("draft convert request served",
		slog.String("draft_id", c.Param("id")),
		slog.Uint64("cv_id", uint64(res.CVID)),
	)
	c.JSON(status, res)
}

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/draft"
)

// DraftConverter runs a server-side conversion for a known user.
type DraftConverter interface {
	ConvertDraft(ctx context.Context, userID uint, draftID string, trigger draft.Trigger) (draft.ConvertResult, error)
}

// InternalHandler serves operator endpoints behind the shared secret.
type InternalHandler struct {
	converter DraftConverter
}

func NewInternalHandler(converter DraftConverter) *InternalHandler {
	return &InternalHandler{converter: converter}
}

type manualConvertRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// ConvertDraft lets support staff finish a conversion that a payment event
// should have triggered, for the user the draft was bought for.
func (h *InternalHandler) ConvertDraft(c *gin.Context) {
	var req manualConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	res, err := h.converter.ConvertDraft(c.Request.Context(), req.UserID, c.Param("id"), draft.TriggerManual)
	if err != nil {
		DraftError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

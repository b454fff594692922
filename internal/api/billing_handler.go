package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/billing"
	"cvforge/internal/draft"
	"cvforge/internal/errcode"
)

const maxWebhookBodyBytes = 1 << 20

// PaymentGateway verifies provider events and reads checkout sessions.
type PaymentGateway interface {
	ParseWebhook(payload []byte, signature string) (billing.Activation, bool, error)
	CheckoutSession(ctx context.Context, sessionID string) (billing.Activation, bool, error)
}

// SubscriptionActivator applies a verified activation.
type SubscriptionActivator interface {
	Activate(ctx context.Context, act billing.Activation, trigger draft.Trigger) (billing.ActivationResult, error)
}

// BillingHandler receives payment webhooks and serves the polling fallback
// used when a webhook is late.
type BillingHandler struct {
	gateway   PaymentGateway
	activator SubscriptionActivator
}

func NewBillingHandler(gateway PaymentGateway, activator SubscriptionActivator) *BillingHandler {
	return &BillingHandler{gateway: gateway, activator: activator}
}

// Webhook acknowledges every event whose signature verifies. Processing
// failures are logged; a failed draft conversion has its own retry path.
func (h *BillingHandler) Webhook(c *gin.Context) {
	logger := middleware.LoggerFromContext(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Error("billing webhook body exceeds limit", slog.Int64("limit_bytes", tooLarge.Limit))
			Error(c, http.StatusRequestEntityTooLarge, errcode.PayloadTooLarge, "webhook body too large")
			return
		}
		BadRequest(c, "unreadable body")
		return
	}

	act, ok, err := h.gateway.ParseWebhook(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			logger.Error("billing webhook received but billing is not configured")
			Error(c, http.StatusServiceUnavailable, errcode.SystemError, "billing not configured")
			return
		}
		if errors.Is(err, billing.ErrInvalidSignature) {
			logger.Warn("billing webhook signature rejected", slog.Any("error", err))
			BadRequest(c, "invalid signature")
			return
		}
		logger.Error("billing webhook payload rejected", slog.Any("error", err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	res, err := h.activator.Activate(c.Request.Context(), act, draft.TriggerBilling)
	if err != nil {
		logger.Error("billing activation failed",
			slog.String("event_id", act.EventID),
			slog.Any("error", err),
		)
	} else if res.DraftError != "" {
		logger.Warn("draft conversion after payment failed",
			slog.String("event_id", act.EventID),
			slog.String("draft_id", act.DraftID),
			slog.String("error", res.DraftError),
		)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// SyncCheckout is the polling fallback: the browser returning from checkout
// asks for the session to be applied now instead of waiting for the webhook.
func (h *BillingHandler) SyncCheckout(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := middleware.LoggerFromContext(c)

	act, paid, err := h.gateway.CheckoutSession(c.Request.Context(), c.Param("sessionId"))
	switch {
	case errors.Is(err, billing.ErrSessionNotFound):
		NotFound(c, "checkout session not found")
		return
	case err != nil:
		logger.Error("checkout session lookup failed", slog.Any("error", err))
		Internal(c, "failed to read checkout session")
		return
	}
	if act.UserID != userID {
		Forbidden(c, "checkout session belongs to another user")
		return
	}
	if !paid {
		c.JSON(http.StatusOK, billing.ActivationResult{Active: false})
		return
	}

	res, err := h.activator.Activate(c.Request.Context(), act, draft.TriggerPolling)
	if err != nil {
		logger.Error("checkout sync activation failed", slog.Any("error", err))
		Internal(c, "failed to apply checkout")
		return
	}
	c.JSON(http.StatusOK, res)
}

package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"cvforge/internal/draft"
	"cvforge/internal/errcode"
	"cvforge/internal/notify"
	"cvforge/internal/tasks"
)

// DraftConverter is the server-side conversion entry point.
type DraftConverter interface {
	ConvertDraft(ctx context.Context, userID uint, draftID string, trigger draft.Trigger) (draft.ConvertResult, error)
}

// Notifier pushes a message to a user's notification channel.
type Notifier interface {
	Notify(ctx context.Context, userID uint, msg notify.Message) error
}

// ConvertTaskHandler retries conversions that failed for internal reasons
// after a payment. Terminal draft errors are not retried.
type ConvertTaskHandler struct {
	converter DraftConverter
	notifier  Notifier
	logger    *slog.Logger
}

func NewConvertTaskHandler(converter DraftConverter, notifier Notifier, logger *slog.Logger) *ConvertTaskHandler {
	return &ConvertTaskHandler{converter: converter, notifier: notifier, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *ConvertTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	payload, err := tasks.ParseDraftConvertPayload(t)
	if err != nil {
		h.logger.Error("invalid convert task payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("draft_id", payload.DraftID),
		slog.Uint64("user_id", uint64(payload.UserID)),
		slog.String("correlation_id", payload.CorrelationID),
	)

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) || h.notifier == nil {
			return
		}
		msg := notify.Message{
			Type:         notify.TypeConvertFailed,
			DraftID:      payload.DraftID,
			Trigger:      string(draft.TriggerRetry),
			ErrorCode:    errcode.SystemError,
			ErrorMessage: "conversion could not be completed, contact support",
		}
		if err := h.notifier.Notify(ctx, payload.UserID, msg); err != nil {
			log.Error("publish conversion failure notification failed", slog.Any("error", err))
		}
	}()

	res, err := h.converter.ConvertDraft(ctx, payload.UserID, payload.DraftID, draft.TriggerRetry)
	if err != nil {
		if draft.IsTerminal(err) {
			log.Warn("draft conversion retry abandoned", slog.Any("error", err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		log.Error("draft conversion retry failed", slog.Any("error", err))
		return err
	}

	log.Info("draft conversion retry succeeded",
		slog.Uint64("cv_id", uint64(res.CVID)),
		slog.Bool("deduplicated", res.Deduplicated),
	)
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

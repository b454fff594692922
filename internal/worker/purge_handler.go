package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DraftPurger deletes drafts expired for longer than retention.
type DraftPurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// PurgeTaskHandler runs the periodic draft housekeeping. Expiry is enforced
// on every read, so this only reclaims space.
type PurgeTaskHandler struct {
	purger    DraftPurger
	retention time.Duration
	logger    *slog.Logger
}

func NewPurgeTaskHandler(purger DraftPurger, retention time.Duration, logger *slog.Logger) *PurgeTaskHandler {
	return &PurgeTaskHandler{purger: purger, retention: retention, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *PurgeTaskHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	n, err := h.purger.PurgeExpired(ctx, h.retention)
	if err != nil {
		h.logger.Error("purge expired drafts failed", slog.Any("error", err))
		return err
	}
	h.logger.Info("expired drafts purged",
		slog.Int64("deleted", n),
		slog.Duration("retention", h.retention),
	)
	return nil
}

package worker

import (
	"github.com/hibiken/asynq"

	"cvforge/internal/metrics"
	"cvforge/internal/tasks"
)

// NewServeMux routes draft tasks to their handlers behind the metrics middleware.
func NewServeMux(convert *ConvertTaskHandler, purge *PurgeTaskHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeDraftConvert, convert)
	mux.Handle(tasks.TypeDraftPurge, purge)
	return mux
}

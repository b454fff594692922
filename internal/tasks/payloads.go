package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types shared by producers and the worker mux.
const (
	TypeDraftConvert = "draft:convert"
	TypeDraftPurge   = "draft:purge"
)

// DraftConvertPayload retries a server-side conversion that failed internally.
type DraftConvertPayload struct {
	DraftID       string `json:"draft_id"`
	UserID        uint   `json:"user_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewDraftConvertTask builds a convert retry. The task id is derived from the
// draft so a redelivered webhook cannot queue a second retry for the same draft.
func NewDraftConvertTask(p DraftConvertPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if p.DraftID == "" || p.UserID == 0 {
		return nil, fmt.Errorf("draft convert task needs draft and user ids")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.TaskID(TypeDraftConvert + ":" + p.DraftID)}, opts...)
	return asynq.NewTask(TypeDraftConvert, payload, opts...), nil
}

// ParseDraftConvertPayload decodes a convert task body.
func ParseDraftConvertPayload(task *asynq.Task) (DraftConvertPayload, error) {
	var p DraftConvertPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return DraftConvertPayload{}, fmt.Errorf("decode %s payload: %w", TypeDraftConvert, err)
	}
	if p.DraftID == "" || p.UserID == 0 {
		return DraftConvertPayload{}, fmt.Errorf("%s payload missing ids", TypeDraftConvert)
	}
	return p, nil
}

// NewDraftPurgeTask builds the periodic housekeeping task.
func NewDraftPurgeTask() *asynq.Task {
	return asynq.NewTask(TypeDraftPurge, nil)
}

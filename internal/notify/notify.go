// Package notify pushes per-user events over redis pub/sub. The websocket
// handler subscribes to the same channels and forwards messages verbatim.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Message types.
const (
	TypeCVConverted     = "cv.converted"
	TypeConvertFailed   = "cv.convert_failed"
	TypeSubscriptionSet = "subscription.updated"
)

// Message is the websocket payload. Field names are part of the client protocol.
type Message struct {
	Type         string `json:"type"`
	DraftID      string `json:"draft_id,omitempty"`
	CVID         uint   `json:"cv_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Trigger      string `json:"trigger,omitempty"`
	Active       *bool  `json:"active,omitempty"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Channel returns the pub/sub channel for userID.
func Channel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Publisher publishes messages to a user's channel.
type Publisher struct {
	client redis.UniversalClient
}

func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Notify publishes msg. A nil publisher is a no-op so callers need not guard.
func (p *Publisher) Notify(ctx context.Context, userID uint, msg Message) error {
	if p == nil || p.client == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := Channel(userID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

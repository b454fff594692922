package draft

// Caller identifies who invokes a draft operation. UserID is zero for
// unauthenticated visitors; AnonymousID is empty when no cookie was presented.
type Caller struct {
	UserID      uint
	AnonymousID string
	// ServerSide marks verified server triggers (billing events, retries) whose
	// draft reference was bound to the user when checkout was created.
	ServerSide bool
}

// Authenticated reports whether the caller carries a user identity.
func (c Caller) Authenticated() bool {
	return c.UserID != 0
}

// Trigger names the path that requested a conversion.
type Trigger string

const (
	TriggerDirect  Trigger = "direct"
	TriggerBilling Trigger = "billing"
	TriggerPolling Trigger = "polling"
	TriggerRetry   Trigger = "retry"
	TriggerManual  Trigger = "manual"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerDirect, TriggerBilling, TriggerPolling, TriggerRetry, TriggerManual:
		return true
	}
	return false
}

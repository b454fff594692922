package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe event types this service reacts to.
const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// Metadata keys set on checkout sessions and subscriptions when they are created.
const (
	metadataUserID  = "user_id"
	metadataDraftID = "draft_id"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrNotConfigured    = errors.New("billing is not configured")
)

// Activation is the provider-neutral outcome of a billing event.
type Activation struct {
	EventID        string
	SessionID      string
	UserID         uint
	CustomerID     string
	SubscriptionID string
	Status         string
	PeriodEnd      *time.Time
	DraftID        string
}

// sessionFetcher is satisfied by the stripe client's checkout session resource.
type sessionFetcher interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway verifies webhooks and reads checkout sessions.
type StripeGateway struct {
	webhookSecret string
	sessions      sessionFetcher
}

// NewStripeGateway builds a gateway. An empty secretKey leaves session lookups disabled.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	g := &StripeGateway{webhookSecret: webhookSecret}
	if secretKey != "" {
		g.sessions = client.New(secretKey, nil).CheckoutSessions
	}
	return g
}

// ParseWebhook verifies the Stripe-Signature header and extracts an activation.
// Events this service does not act on return ok=false.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Activation, bool, error) {
	if g.webhookSecret == "" {
		return Activation{}, false, ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Activation{}, false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return Activation{}, false, nil
	}

	switch string(event.Type) {
	case eventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return Activation{}, false, fmt.Errorf("decode checkout session: %w", err)
		}
		act, ok := activationFromSession(&session)
		act.EventID = event.ID
		return act, ok, nil

	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Activation{}, false, fmt.Errorf("decode subscription: %w", err)
		}
		act := activationFromSubscription(&sub)
		act.EventID = event.ID
		if string(event.Type) == eventSubscriptionDeleted {
			act.Status = string(stripe.SubscriptionStatusCanceled)
		}
		return act, true, nil
	}
	return Activation{}, false, nil
}

// CheckoutSession reads a session by id for the polling fallback.
// ok is false while the session is not yet paid.
func (g *StripeGateway) CheckoutSession(ctx context.Context, sessionID string) (Activation, bool, error) {
	if g.sessions == nil {
		return Activation{}, false, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	session, err := g.sessions.Get(sessionID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return Activation{}, false, ErrSessionNotFound
		}
		return Activation{}, false, fmt.Errorf("get checkout session: %w", err)
	}
	act, ok := activationFromSession(session)
	return act, ok, nil
}

func activationFromSession(s *stripe.CheckoutSession) (Activation, bool) {
	act := Activation{
		SessionID: s.ID,
		UserID:    parseUserID(s.ClientReferenceID),
		DraftID:   s.Metadata[metadataDraftID],
	}
	if act.UserID == 0 {
		act.UserID = parseUserID(s.Metadata[metadataUserID])
	}
	if s.Customer != nil {
		act.CustomerID = s.Customer.ID
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return act, false
	}

	act.Status = string(stripe.SubscriptionStatusActive)
	if s.Subscription != nil {
		act.SubscriptionID = s.Subscription.ID
		if s.Subscription.Status != "" {
			act.Status = string(s.Subscription.Status)
		}
		act.PeriodEnd = unixTime(s.Subscription.CurrentPeriodEnd)
	}
	return act, true
}

func activationFromSubscription(sub *stripe.Subscription) Activation {
	act := Activation{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
		PeriodEnd:      unixTime(sub.CurrentPeriodEnd),
		UserID:         parseUserID(sub.Metadata[metadataUserID]),
		DraftID:        sub.Metadata[metadataDraftID],
	}
	if sub.Customer != nil {
		act.CustomerID = sub.Customer.ID
	}
	return act
}

func parseUserID(raw string) uint {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

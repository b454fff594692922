package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

const testWebhookSecret = "whsec_test"

func signedHeader(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2023-10-16","type":%q,"data":{"object":%s}}`, eventType, object))
}

func TestParseWebhookCheckoutCompleted(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	payload := event(eventCheckoutCompleted, `{
		"id":"cs_1","object":"checkout.session","client_reference_id":"42",
		"customer":"cus_1","payment_status":"paid",
		"subscription":"sub_1","metadata":{"draft_id":"d-1"}
	}`)

	act, ok, err := g.ParseWebhook(payload, signedHeader(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_1", act.EventID)
	assert.Equal(t, "cs_1", act.SessionID)
	assert.EqualValues(t, 42, act.UserID)
	assert.Equal(t, "cus_1", act.CustomerID)
	assert.Equal(t, "sub_1", act.SubscriptionID)
	assert.Equal(t, "active", act.Status)
	assert.Equal(t, "d-1", act.DraftID)
}

func TestParseWebhookUnpaidCheckoutIsIgnored(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	payload := event(eventCheckoutCompleted, `{"id":"cs_1","object":"checkout.session","payment_status":"unpaid","metadata":{"user_id":"7"}}`)

	act, ok, err := g.ParseWebhook(payload, signedHeader(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 7, act.UserID, "metadata user id is the fallback")
}

func TestParseWebhookSubscriptionEvents(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	object := fmt.Sprintf(`{"id":"sub_1","object":"subscription","status":"past_due","customer":"cus_1","current_period_end":%d,"metadata":{}}`, end.Unix())

	payload := event(eventSubscriptionUpdated, object)
	act, ok, err := g.ParseWebhook(payload, signedHeader(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sub_1", act.SubscriptionID)
	assert.Equal(t, "past_due", act.Status)
	assert.Zero(t, act.UserID)
	require.NotNil(t, act.PeriodEnd)
	assert.True(t, end.Equal(*act.PeriodEnd))

	payload = event(eventSubscriptionDeleted, object)
	act, ok, err = g.ParseWebhook(payload, signedHeader(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "canceled", act.Status)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	payload := event(eventCheckoutCompleted, `{"id":"cs_1","object":"checkout.session"}`)

	_, _, err := g.ParseWebhook(payload, signedHeader(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, _, err = g.ParseWebhook(payload, signedHeader(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature, "stale timestamps are rejected")

	_, _, err = g.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	payload := event("invoice.paid", `{"id":"in_1","object":"invoice"}`)

	_, ok, err := g.ParseWebhook(payload, signedHeader(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakeSessions struct {
	session *stripe.CheckoutSession
	err     error
	params  *stripe.CheckoutSessionParams
}

func (f *fakeSessions) Get(_ string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

func TestCheckoutSessionLookup(t *testing.T) {
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{session: &stripe.CheckoutSession{
		ID:                "cs_1",
		ClientReferenceID: "5",
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		Customer:          &stripe.Customer{ID: "cus_1"},
		Subscription:      &stripe.Subscription{ID: "sub_1", Status: stripe.SubscriptionStatusTrialing, CurrentPeriodEnd: end.Unix()},
		Metadata:          map[string]string{"draft_id": "d-9"},
	}}
	g := &StripeGateway{sessions: sessions}

	act, ok, err := g.CheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, act.UserID)
	assert.Equal(t, "trialing", act.Status)
	assert.Equal(t, "d-9", act.DraftID)
	assert.Contains(t, sessions.params.Expand, stripe.String("subscription"))
}

func TestCheckoutSessionNotConfigured(t *testing.T) {
	_, _, err := NewStripeGateway("", "").CheckoutSession(context.Background(), "cs_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/billing"
	"cvforge/internal/draft"
)

type fakeGateway struct {
	act      billing.Activation
	ok       bool
	err      error
	sessions map[string]billing.Activation
}

func (g *fakeGateway) ParseWebhook(_ []byte, signature string) (billing.Activation, bool, error) {
	if signature != "valid" {
		return billing.Activation{}, false, billing.ErrInvalidSignature
	}
	return g.act, g.ok, g.err
}

func (g *fakeGateway) CheckoutSession(_ context.Context, id string) (billing.Activation, bool, error) {
	act, found := g.sessions[id]
	if !found {
		return billing.Activation{}, false, billing.ErrSessionNotFound
	}
	return act, act.Status == "active", nil
}

type recordingActivator struct {
	mu       sync.Mutex
	triggers []draft.Trigger
	result   billing.ActivationResult
	err      error
}

func (a *recordingActivator) Activate(_ context.Context, _ billing.Activation, trigger draft.Trigger) (billing.ActivationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.triggers = append(a.triggers, trigger)
	return a.result, a.err
}

func withBilling(g *fakeGateway, a *recordingActivator) envOption {
	return func(h *Handlers) {
		h.Billing = NewBillingHandler(g, a)
	}
}

func TestWebhookSignature(t *testing.T) {
	gateway := &fakeGateway{act: billing.Activation{UserID: 1, DraftID: "d1"}, ok: true}
	activator := &recordingActivator{}
	env := newTestEnv(t, withBilling(gateway, activator))

	rec := env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: `{}`, header: map[string]string{"Stripe-Signature": "forged"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, activator.triggers)

	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: `{}`, header: map[string]string{"Stripe-Signature": "valid"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []draft.Trigger{draft.TriggerBilling}, activator.triggers)
}

func TestWebhookAcknowledgesProcessingFailures(t *testing.T) {
	gateway := &fakeGateway{act: billing.Activation{UserID: 1}, ok: true}
	activator := &recordingActivator{err: errors.New("database down")}
	env := newTestEnv(t, withBilling(gateway, activator))

	rec := env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: `{}`, header: map[string]string{"Stripe-Signature": "valid"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	activator.err = nil
	activator.result = billing.ActivationResult{Active: true, DraftError: "draft expired"}
	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: `{}`, header: map[string]string{"Stripe-Signature": "valid"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookBodyLimit(t *testing.T) {
	gateway := &fakeGateway{act: billing.Activation{UserID: 1}, ok: true}
	activator := &recordingActivator{}
	env := newTestEnv(t, withBilling(gateway, activator))
	signed := map[string]string{"Stripe-Signature": "valid"}

	large := `{"pad":"` + strings.Repeat("x", 200<<10) + `"}`
	rec := env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: large, header: signed})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, activator.triggers, 1)

	oversized := `{"pad":"` + strings.Repeat("x", maxWebhookBodyBytes) + `"}`
	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: oversized, header: signed})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Len(t, activator.triggers, 1)
}

func TestWebhookIgnoresUnhandledEvents(t *testing.T) {
	activator := &recordingActivator{}
	env := newTestEnv(t, withBilling(&fakeGateway{ok: false}, activator))

	rec := env.do(request{method: http.MethodPost, path: "/v1/billing/webhook", body: `{}`, header: map[string]string{"Stripe-Signature": "valid"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, activator.triggers)
}

func TestCheckoutSync(t *testing.T) {
	gateway := &fakeGateway{sessions: map[string]billing.Activation{}}
	activator := &recordingActivator{result: billing.ActivationResult{Active: true, CVID: 42}}
	env := newTestEnv(t, withBilling(gateway, activator))
	gateway.sessions["cs_paid"] = billing.Activation{SessionID: "cs_paid", UserID: env.alice, Status: "active", DraftID: "d1"}
	gateway.sessions["cs_open"] = billing.Activation{SessionID: "cs_open", UserID: env.alice}

	rec := env.do(request{method: http.MethodPost, path: "/v1/billing/checkout/cs_paid/sync"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/checkout/cs_missing/sync", userID: env.alice})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/checkout/cs_paid/sync", userID: env.bob})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/checkout/cs_open/sync", userID: env.alice})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false}`, rec.Body.String())
	assert.Empty(t, activator.triggers)

	rec = env.do(request{method: http.MethodPost, path: "/v1/billing/checkout/cs_paid/sync", userID: env.alice})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":true,"cv_id":42}`, rec.Body.String())
	assert.Equal(t, []draft.Trigger{draft.TriggerPolling}, activator.triggers)
}

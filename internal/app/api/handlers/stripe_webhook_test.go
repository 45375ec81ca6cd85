package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/service/entitlement"
	"github.com/courseloom/entitlements/internal/app/service/identity"
	"github.com/courseloom/entitlements/internal/app/service/lifecycle"
	"github.com/courseloom/entitlements/internal/app/service/webhook"
	"github.com/courseloom/entitlements/internal/app/store/storetest"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/ringlog"
	"github.com/courseloom/entitlements/pkg/types"
)

const testWebhookSecret = "whsec_route_test"

type noopNotifier struct{}

func (noopNotifier) Enqueue(types.NotificationKind, string, map[string]any) bool { return true }

type noopForwarder struct{}

func (noopForwarder) Forward(context.Context, types.StatusUpdate, bool) {}

type noopEventLog struct{}

func (noopEventLog) Save(context.Context, *models.WebhookEventLog) {}

type erroringProvider struct{}

func (erroringProvider) GetCustomer(context.Context, string) (*stripe.Customer, error) {
	return nil, &stripe.Error{HTTPStatusCode: 500, Msg: "provider down"}
}

func (erroringProvider) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return nil, &stripe.Error{HTTPStatusCode: 500, Msg: "provider down"}
}

func (erroringProvider) SetCancelAtPeriodEnd(context.Context, string, bool) (*stripe.Subscription, error) {
	return nil, &stripe.Error{HTTPStatusCode: 500, Msg: "provider down"}
}

func (erroringProvider) CancelSubscription(context.Context, string) (*stripe.Subscription, error) {
	return nil, &stripe.Error{HTTPStatusCode: 500, Msg: "provider down"}
}

func (erroringProvider) CreateCheckoutSession(context.Context, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return nil, &stripe.Error{HTTPStatusCode: 500, Msg: "provider down"}
}

func newWebhookRouter(t *testing.T) (*gin.Engine, *storetest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	mem := storetest.New()
	cfg := &config.Config{Webhook: config.WebhookConfig{Secrets: []string{testWebhookSecret}}}

	verifier := webhook.NewVerifier(webhook.NewSecretSource(cfg, mem, log), log)
	resolver := identity.NewResolver(mem, noopNotifier{}, cfg, log)
	provisioner := entitlement.NewService(mem, mem, mem, noopNotifier{}, noopForwarder{}, log)
	lifecycleSvc := lifecycle.NewService(mem, mem, erroringProvider{}, noopNotifier{}, noopForwarder{}, log)
	h := webhook.NewHandler(verifier, resolver, provisioner, lifecycleSvc, mem, mem, erroringProvider{}, noopForwarder{}, ringlog.New(16), noopEventLog{}, log)

	r := gin.New()
	RegisterWebhookRoutes(r.Group("/api/v1"), h)
	return r, mem
}

func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func eventBody(t *testing.T, typ string, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":       "evt_route_1",
		"type":     typ,
		"livemode": true,
		"data":     map[string]any{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func TestWebhookRouteMissingSignatureIs400(t *testing.T) {
	r, _ := newWebhookRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(eventBody(t, "checkout.session.completed", map[string]any{})))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRouteBadSignatureIs400(t *testing.T) {
	r, _ := newWebhookRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(eventBody(t, "checkout.session.completed", map[string]any{})))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRouteIgnoredEventIs200(t *testing.T) {
	r, _ := newWebhookRouter(t)
	req := signedRequest(t, eventBody(t, "charge.refunded", map[string]any{"id": "ch_1"}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhookRouteProcessingFailureIs500(t *testing.T) {
	// Unknown customer forces a provider lookup, and the provider is down.
	r, _ := newWebhookRouter(t)
	req := signedRequest(t, eventBody(t, "customer.subscription.updated", map[string]any{
		"id":       "sub_1",
		"customer": "cus_down",
		"status":   "active",
	}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

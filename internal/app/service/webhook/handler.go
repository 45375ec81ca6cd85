package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/courseloom/entitlements/internal/app/service/entitlement"
	"github.com/courseloom/entitlements/internal/app/service/identity"
	"github.com/courseloom/entitlements/internal/app/service/lifecycle"
	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/internal/platform/stripeapi"
	"github.com/courseloom/entitlements/pkg/logctx"
	"github.com/courseloom/entitlements/pkg/ringlog"
	"github.com/courseloom/entitlements/pkg/types"
)

// Outcome classifies a processed delivery for the HTTP layer: ignored
// deliveries still acknowledge with 200 so the provider stops retrying.
type Outcome string

const (
	OutcomeHandled Outcome = "handled"
	OutcomeIgnored Outcome = "ignored"
)

const ringPayloadLimit = 2048

const (
	metadataKeyUserID = "user_id"
	metadataKeyPlanID = "plan_id"
)

// EventLogger persists the durable delivery log, best effort.
type EventLogger interface {
	Save(ctx context.Context, entry *models.WebhookEventLog)
}

// Handler verifies, decodes, and dispatches provider webhook deliveries.
type Handler struct {
	verifier    *Verifier
	resolver    *identity.Resolver
	provisioner *entitlement.Service
	lifecycle   *lifecycle.Service
	plans       store.PlanStore
	ledger      store.LedgerStore
	provider    stripeapi.ProviderAPI
	forward     entitlement.Forwarder
	ring        *ringlog.Buffer
	events      EventLogger
	log         *zap.SugaredLogger
}

func NewHandler(
	verifier *Verifier,
	resolver *identity.Resolver,
	provisioner *entitlement.Service,
	lifecycle *lifecycle.Service,
	plans store.PlanStore,
	ledger store.LedgerStore,
	provider stripeapi.ProviderAPI,
	forward entitlement.Forwarder,
	ring *ringlog.Buffer,
	events EventLogger,
	log *zap.SugaredLogger,
) *Handler {
	return &Handler{
		verifier:    verifier,
		resolver:    resolver,
		provisioner: provisioner,
		lifecycle:   lifecycle,
		plans:       plans,
		ledger:      ledger,
		provider:    provider,
		forward:     forward,
		ring:        ring,
		events:      events,
		log:         log,
	}
}

// Handle runs one delivery through verification and dispatch. A returned
// ErrInvalidSignature (or ErrNoSecrets) means the request is not
// authentic; any other error means processing failed and the provider
// should redeliver.
func (h *Handler) Handle(ctx context.Context, payload []byte, sigHeader, traceID string) (Outcome, error) {
	h.ring.Append("received", "", "", truncate(payload))

	event, err := h.verifier.Verify(ctx, payload, sigHeader)
	if err != nil {
		h.ring.Append("rejected", "", "", err.Error())
		return "", err
	}
	log := logctx.FromCtx(ctx, h.log).With("event_id", event.ID, "event_type", event.Type)
	h.ring.Append("verified", string(event.Type), event.ID, "")
	h.events.Save(ctx, &models.WebhookEventLog{
		EventID:   event.ID,
		EventType: string(event.Type),
		TraceID:   traceID,
		Data:      datatypes.JSON(payload),
		Status:    models.WebhookEventLogStatusReceived,
	})

	outcome, err := h.dispatch(ctx, &event)
	if err != nil {
		log.Errorw("webhook processing failed", "err", err)
		h.ring.Append("failed", string(event.Type), event.ID, err.Error())
		h.saveResult(ctx, &event, traceID, models.WebhookEventLogStatusHandleFailed, err.Error())
		return "", err
	}
	log.Infow("webhook processed", "outcome", outcome)
	h.ring.Append(string(outcome), string(event.Type), event.ID, "")
	h.saveResult(ctx, &event, traceID, models.WebhookEventLogStatusHandled, string(outcome))
	return outcome, nil
}

func (h *Handler) dispatch(ctx context.Context, event *stripe.Event) (Outcome, error) {
	testMode := !event.Livemode
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", fmt.Errorf("decode checkout session: %w", err)
		}
		return h.handleCheckout(ctx, event, &session, testMode)

	case "invoice.payment_succeeded", "invoice.paid":
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return "", fmt.Errorf("decode invoice: %w", err)
		}
		return h.handleInvoicePaid(ctx, event, &invoice, testMode)

	case "invoice.payment_failed":
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return "", fmt.Errorf("decode invoice: %w", err)
		}
		return h.handleInvoiceFailed(ctx, event, &invoice, testMode)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		in := lifecycle.UpdateInput{
			EventType:    string(event.Type),
			Subscription: sub.ToProvider(),
			TestMode:     testMode,
		}
		var err error
		if event.Type == "customer.subscription.deleted" {
			err = h.lifecycle.HandleDeleted(ctx, in)
		} else {
			err = h.lifecycle.HandleUpdated(ctx, in)
		}
		if errors.Is(err, lifecycle.ErrUserNotFound) {
			logctx.FromCtx(ctx, h.log).Warnw("subscription event for unknown user, ignoring",
				"event_id", event.ID, "subscription_id", sub.ID)
			return OutcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		return OutcomeHandled, nil

	default:
		logctx.FromCtx(ctx, h.log).Infow("webhook ignored (unhandled type)",
			"event_id", event.ID, "event_type", event.Type)
		return OutcomeIgnored, nil
	}
}

func (h *Handler) handleCheckout(ctx context.Context, event *stripe.Event, session *CheckoutSession, testMode bool) (Outcome, error) {
	log := logctx.FromCtx(ctx, h.log).With("event_id", event.ID, "session_id", session.ID)
	if session.BillingID() == "" {
		log.Warnw("checkout session carries no usable id, ignoring")
		return OutcomeIgnored, nil
	}

	var sub *types.ProviderSubscription
	if session.Subscription != "" {
		if apiSub, err := h.provider.GetSubscription(ctx, session.Subscription); err != nil {
			// The payment stands even when the lookup fails; renewal state
			// falls back to the subscription id heuristic.
			log.Warnw("subscription fetch failed, provisioning without it",
				"subscription_id", session.Subscription, "err", err)
		} else {
			sub = lo.ToPtr(providerSubFromAPI(apiSub))
		}
	}

	plan, err := h.derivePlan(ctx, session.Metadata, sub)
	if err != nil {
		return "", err
	}
	if plan == nil {
		log.Warnw("checkout session maps to no plan, ignoring")
		return OutcomeIgnored, nil
	}

	user, err := h.resolver.Resolve(ctx, identity.ResolveInput{
		UserID:     sessionUserID(session),
		CustomerID: session.Customer,
		Email:      session.Email(),
		Plan:       plan,
	})
	if errors.Is(err, identity.ErrUnresolvable) {
		h.ring.Append("unresolved", string(event.Type), event.ID, "missing_identifiers")
		log.Warnw("checkout session carries no resolvable identity, ignoring")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if err := h.provisioner.Provision(ctx, entitlement.ProvisionInput{
		EventID:        event.ID,
		EventType:      string(event.Type),
		UserID:         user.ID,
		Plan:           plan,
		BillingID:      session.BillingID(),
		SubscriptionID: session.Subscription,
		Subscription:   sub,
		AmountMinor:    session.AmountTotal,
		Currency:       session.Currency,
		TestMode:       testMode,
	}); err != nil {
		return "", err
	}
	return OutcomeHandled, nil
}

func (h *Handler) handleInvoicePaid(ctx context.Context, event *stripe.Event, invoice *Invoice, testMode bool) (Outcome, error) {
	log := logctx.FromCtx(ctx, h.log).With("event_id", event.ID, "invoice_id", invoice.ID)

	var sub *types.ProviderSubscription
	if invoice.Subscription != "" {
		if apiSub, err := h.provider.GetSubscription(ctx, invoice.Subscription); err != nil {
			log.Warnw("subscription fetch failed, provisioning without it",
				"subscription_id", invoice.Subscription, "err", err)
		} else {
			sub = lo.ToPtr(providerSubFromAPI(apiSub))
		}
	}

	plan, err := h.derivePlanFromPrice(ctx, invoice.FirstPriceID(), sub)
	if err != nil {
		return "", err
	}
	if plan == nil {
		log.Warnw("invoice maps to no plan, ignoring")
		return OutcomeIgnored, nil
	}

	user, err := h.resolver.Resolve(ctx, identity.ResolveInput{
		UserID:     invoice.Metadata[metadataKeyUserID],
		CustomerID: invoice.Customer,
		Email:      invoice.CustomerEmail,
		Plan:       plan,
	})
	if errors.Is(err, identity.ErrUnresolvable) {
		h.ring.Append("unresolved", string(event.Type), event.ID, "missing_identifiers")
		log.Warnw("invoice carries no resolvable identity, ignoring")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	amount := invoice.AmountPaid
	if amount == 0 {
		amount = invoice.AmountDue
	}
	if err := h.provisioner.Provision(ctx, entitlement.ProvisionInput{
		EventID:        event.ID,
		EventType:      string(event.Type),
		UserID:         user.ID,
		Plan:           plan,
		BillingID:      invoice.ID,
		SubscriptionID: invoice.Subscription,
		Subscription:   sub,
		AmountMinor:    amount,
		Currency:       invoice.Currency,
		TestMode:       testMode,
	}); err != nil {
		return "", err
	}
	return OutcomeHandled, nil
}

// handleInvoiceFailed records the failed charge in the ledger and
// forwards the current status; the entitlement itself is left alone
// until the provider cancels the subscription.
func (h *Handler) handleInvoiceFailed(ctx context.Context, event *stripe.Event, invoice *Invoice, testMode bool) (Outcome, error) {
	log := logctx.FromCtx(ctx, h.log).With("event_id", event.ID, "invoice_id", invoice.ID)

	user, err := h.resolver.Resolve(ctx, identity.ResolveInput{
		UserID:     invoice.Metadata[metadataKeyUserID],
		CustomerID: invoice.Customer,
		Email:      invoice.CustomerEmail,
	})
	if errors.Is(err, identity.ErrUnresolvable) {
		log.Warnw("failed invoice for unknown user, ignoring")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if _, err := h.ledger.UpsertBillingRecord(ctx, invoice.ID, store.BillingRecordFields{
		UserID:   user.ID,
		PlanID:   user.SubscriptionPlanID,
		Status:   types.BillingStatusFailed,
		Amount:   entitlement.MinorUnitsToAmount(invoice.AmountDue),
		Currency: strings.ToUpper(invoice.Currency),
		Gateway:  types.GatewayStripe,
	}); err != nil {
		return "", fmt.Errorf("record failed invoice %s: %w", invoice.ID, err)
	}

	if h.forward != nil {
		update := types.StatusUpdate{
			Source: types.GatewayStripe,
			Type:   string(event.Type),
			Status: user.SubscriptionStatus,
			UserID: user.ID,
		}
		if user.SubscriptionPlanID != nil {
			update.PlanID = *user.SubscriptionPlanID
		}
		h.forward.Forward(ctx, update, testMode)
	}
	return OutcomeHandled, nil
}

// derivePlan maps a checkout session to a plan: explicit metadata first,
// then the subscription's price.
func (h *Handler) derivePlan(ctx context.Context, metadata map[string]string, sub *types.ProviderSubscription) (*models.Plan, error) {
	if id := metadata[metadataKeyPlanID]; id != "" {
		plan, err := h.plans.FindPlanByID(ctx, id)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find plan %s: %w", id, err)
		}
	}
	priceID := ""
	if sub != nil {
		priceID = sub.PriceID
	}
	return h.derivePlanFromPrice(ctx, priceID, nil)
}

func (h *Handler) derivePlanFromPrice(ctx context.Context, priceID string, sub *types.ProviderSubscription) (*models.Plan, error) {
	if priceID == "" && sub != nil {
		priceID = sub.PriceID
	}
	if priceID == "" {
		return nil, nil
	}
	plan, err := h.plans.FindPlanByPriceID(ctx, priceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find plan by price %s: %w", priceID, err)
	}
	return plan, nil
}

func (h *Handler) saveResult(ctx context.Context, event *stripe.Event, traceID string, status models.WebhookEventLogStatus, detail string) {
	result, _ := json.Marshal(map[string]string{"detail": detail})
	h.events.Save(ctx, &models.WebhookEventLog{
		EventID:   event.ID,
		EventType: string(event.Type),
		TraceID:   traceID,
		Result:    lo.ToPtr(datatypes.JSON(result)),
		Status:    status,
	})
}

// providerSubFromAPI normalizes a fetched subscription object. The
// billing period lives on the items in current provider API versions.
func providerSubFromAPI(sub *stripe.Subscription) types.ProviderSubscription {
	out := types.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixToTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if out.CurrentPeriodEnd == nil && item.CurrentPeriodEnd > 0 {
				out.CurrentPeriodEnd = unixToTime(item.CurrentPeriodEnd)
			}
			if out.PriceID == "" && item.Price != nil {
				out.PriceID = item.Price.ID
			}
		}
	}
	return out
}

func sessionUserID(session *CheckoutSession) string {
	if id := session.Metadata[metadataKeyUserID]; id != "" {
		return id
	}
	return session.ClientReferenceID
}

func truncate(payload []byte) string {
	if len(payload) > ringPayloadLimit {
		return string(payload[:ringPayloadLimit])
	}
	return string(payload)
}

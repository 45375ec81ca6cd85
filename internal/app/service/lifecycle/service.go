package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/service/entitlement"
	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/internal/platform/stripeapi"
	"github.com/courseloom/entitlements/pkg/types"
)

// ErrUserNotFound means no platform user maps to the subscription's
// customer. Callers treat it as an ignorable delivery.
var ErrUserNotFound = errors.New("lifecycle: no user for subscription")

type Notifier interface {
	Enqueue(kind types.NotificationKind, recipient string, payload map[string]any) bool
}

type Forwarder interface {
	Forward(ctx context.Context, update types.StatusUpdate, testMode bool)
}

// UpdateInput is a subscription state change delivered by the provider.
type UpdateInput struct {
	EventType    string
	Subscription types.ProviderSubscription
	TestMode     bool
}

// Service reconciles subscription lifecycle events (renewal toggles,
// scheduled and immediate cancellations) into the stored entitlement.
type Service struct {
	users    store.UserStore
	ledger   store.LedgerStore
	provider stripeapi.ProviderAPI
	notify   Notifier
	forward  Forwarder
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewService(
	users store.UserStore,
	ledger store.LedgerStore,
	provider stripeapi.ProviderAPI,
	notify Notifier,
	forward Forwarder,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		users:    users,
		ledger:   ledger,
		provider: provider,
		notify:   notify,
		forward:  forward,
		log:      log,
		now:      time.Now,
	}
}

// HandleUpdated reconciles a subscription update: renewal flag flips,
// scheduled cancellations, and provider-side immediate cancellations
// that arrive as updates.
func (s *Service) HandleUpdated(ctx context.Context, in UpdateInput) error {
	return s.reconcile(ctx, in, false)
}

// HandleDeleted reconciles a subscription deletion, which the provider
// sends when a subscription ends for good.
func (s *Service) HandleDeleted(ctx context.Context, in UpdateInput) error {
	return s.reconcile(ctx, in, true)
}

func (s *Service) reconcile(ctx context.Context, in UpdateInput, deleted bool) error {
	sub := in.Subscription
	user, err := s.resolveUser(ctx, sub.CustomerID)
	if err != nil {
		return err
	}

	now := s.now()
	autoRenew := types.AutoRenewEnabled
	if sub.CancelAtPeriodEnd {
		autoRenew = types.AutoRenewDisabled
	}

	immediate := deleted || (sub.Status == "canceled" && !sub.CancelAtPeriodEnd)
	fields := store.EntitlementFields{AutoRenew: lo.ToPtr(autoRenew)}
	var validUntil *time.Time

	switch {
	case immediate:
		// Access ends at the cancellation moment, not the period end.
		validUntil = sub.CanceledAt
		if validUntil == nil {
			validUntil = lo.ToPtr(now)
		}
		fields.ValidUntil = validUntil
		fields.HasFullAccess = lo.ToPtr(false)
		fields.CanceledImmediatelyAt = validUntil
		fields.AutoRenew = lo.ToPtr(types.AutoRenewDisabled)
		autoRenew = types.AutoRenewDisabled
	case sub.CurrentPeriodEnd != nil:
		validUntil = sub.CurrentPeriodEnd
		fields.ValidUntil = validUntil
	default:
		// Provider sent no period end; keep the stored window.
		validUntil = user.SubscriptionValidUntil
	}

	status := entitlement.Calculate(user.SubscriptionPlanID, validUntil, autoRenew, now)
	fields.Status = lo.ToPtr(status)

	if err := s.users.SaveEntitlement(ctx, user.ID, fields); err != nil {
		return fmt.Errorf("lifecycle %s: save entitlement: %w", sub.ID, err)
	}
	if immediate && sub.ID != "" {
		if _, err := s.ledger.UpsertBillingRecord(ctx, sub.ID, store.BillingRecordFields{
			UserID:   user.ID,
			PlanID:   user.SubscriptionPlanID,
			Status:   types.BillingStatusCanceled,
			Currency: "",
			Gateway:  types.GatewayStripe,
		}); err != nil {
			return fmt.Errorf("lifecycle %s: ledger upsert: %w", sub.ID, err)
		}
	}

	s.log.Infow("subscription reconciled",
		"user_id", user.ID,
		"subscription_id", sub.ID,
		"status", status,
		"auto_renew", autoRenew,
		"immediate_cancel", immediate,
	)

	s.emit(ctx, user, in, status, validUntil, immediate)
	return nil
}

// resolveUser maps the provider customer to a platform user, falling back
// to the customer's email fetched out of band.
func (s *Service) resolveUser(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, ErrUserNotFound
	}
	u, err := s.users.FindUserByExternalCustomerID(ctx, customerID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lifecycle: find user by customer %s: %w", customerID, err)
	}

	cust, err := s.provider.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetch customer %s: %w", customerID, err)
	}
	if cust.Email == "" {
		return nil, ErrUserNotFound
	}
	u, err = s.users.FindUserByEmail(ctx, cust.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lifecycle: find user by email: %w", err)
	}
	if err := s.users.SaveEntitlement(ctx, u.ID, store.EntitlementFields{
		ExternalCustomerID: lo.ToPtr(customerID),
	}); err != nil {
		return nil, fmt.Errorf("lifecycle: record customer id for %s: %w", u.ID, err)
	}
	return u, nil
}

func (s *Service) emit(ctx context.Context, user *models.User, in UpdateInput, status types.EntitlementStatus, validUntil *time.Time, immediate bool) {
	if s.notify != nil && user.Email != "" {
		switch {
		case immediate:
			s.notify.Enqueue(types.NotificationKindCanceledImmediate, user.Email, nil)
		case in.Subscription.CancelAtPeriodEnd:
			s.notify.Enqueue(types.NotificationKindCanceledPeriodEnd, user.Email, map[string]any{
				"valid_until": validUntil,
			})
		}
	}
	if s.forward != nil {
		update := types.StatusUpdate{
			Source:     types.GatewayStripe,
			Type:       in.EventType,
			Status:     status,
			UserID:     user.ID,
			ValidUntil: validUntil,
		}
		if user.SubscriptionPlanID != nil {
			update.PlanID = *user.SubscriptionPlanID
		}
		s.forward.Forward(ctx, update, in.TestMode)
	}
}

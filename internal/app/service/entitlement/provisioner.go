package entitlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/types"
)

// Notifier queues a user-facing notification. Implementations must not
// block the caller.
type Notifier interface {
	Enqueue(kind types.NotificationKind, recipient string, payload map[string]any) bool
}

// Forwarder pushes a status update to the downstream platform.
type Forwarder interface {
	Forward(ctx context.Context, update types.StatusUpdate, testMode bool)
}

// ProvisionInput is one successful payment to reconcile. BillingID is the
// provider's natural transaction id and keys the ledger upsert.
type ProvisionInput struct {
	EventID   string
	EventType string
	UserID    string
	Plan      *models.Plan
	BillingID string
	// SubscriptionID is set for subscription purchases even when the full
	// subscription object could not be fetched.
	SubscriptionID string
	Subscription   *types.ProviderSubscription
	AmountMinor    int64
	Currency       string
	TestMode       bool
}

// Service grants entitlements from confirmed payments. All writes are
// idempotent so redelivered events converge on the same state.
type Service struct {
	users   store.UserStore
	plans   store.PlanStore
	ledger  store.LedgerStore
	notify  Notifier
	forward Forwarder
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewService(
	users store.UserStore,
	plans store.PlanStore,
	ledger store.LedgerStore,
	notify Notifier,
	forward Forwarder,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		users:   users,
		plans:   plans,
		ledger:  ledger,
		notify:  notify,
		forward: forward,
		log:     log,
		now:     time.Now,
	}
}

// MinorUnitsToAmount converts a provider amount in minor units to a
// decimal amount with two fractional digits.
func MinorUnitsToAmount(minor int64) float64 {
	return float64(minor) / 100
}

// Provision applies a confirmed payment: computes the validity window and
// renewal state, persists the entitlement, records the ledger row, and
// emits the notification and downstream update on a best-effort basis.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) error {
	if in.Plan == nil {
		return fmt.Errorf("provision %s: no plan", in.BillingID)
	}
	user, err := s.users.GetUser(ctx, in.UserID)
	if err != nil {
		return fmt.Errorf("provision %s: load user %s: %w", in.BillingID, in.UserID, err)
	}

	now := s.now()
	validUntil := s.validityWindow(in.Plan, in.Subscription, now)
	autoRenew := renewalState(in.Subscription, in.SubscriptionID)
	status := Calculate(lo.ToPtr(in.Plan.ID), validUntil, autoRenew, now)

	fields := store.EntitlementFields{
		PlanID:       lo.ToPtr(in.Plan.ID),
		AutoRenew:    lo.ToPtr(autoRenew),
		Status:       lo.ToPtr(status),
		HasPurchased: lo.ToPtr(true),
	}
	if validUntil != nil {
		fields.ValidUntil = validUntil
	} else {
		fields.ClearValidUntil = true
	}
	if in.Subscription != nil && in.Subscription.CustomerID != "" {
		fields.ExternalCustomerID = lo.ToPtr(in.Subscription.CustomerID)
	}
	if in.Plan.IsFullAccess() {
		fields.HasFullAccess = lo.ToPtr(true)
		fields.ClearCanceledMarker = true
	}
	if err := s.users.SaveEntitlement(ctx, user.ID, fields); err != nil {
		return fmt.Errorf("provision %s: save entitlement: %w", in.BillingID, err)
	}
	if !in.Plan.IsFullAccess() && len(in.Plan.CourseIDs) > 0 {
		if err := s.users.GrantCourses(ctx, user.ID, in.Plan.CourseIDs); err != nil {
			return fmt.Errorf("provision %s: grant courses: %w", in.BillingID, err)
		}
	}

	if _, err := s.ledger.UpsertBillingRecord(ctx, in.BillingID, store.BillingRecordFields{
		UserID:   user.ID,
		PlanID:   lo.ToPtr(in.Plan.ID),
		Status:   types.BillingStatusPaid,
		Amount:   MinorUnitsToAmount(in.AmountMinor),
		Currency: strings.ToUpper(in.Currency),
		Gateway:  types.GatewayStripe,
		PaidAt:   lo.ToPtr(now),
	}); err != nil {
		return fmt.Errorf("provision %s: ledger upsert: %w", in.BillingID, err)
	}

	s.log.Infow("entitlement provisioned",
		"user_id", user.ID,
		"plan_id", in.Plan.ID,
		"billing_id", in.BillingID,
		"status", status,
	)

	if s.notify != nil && user.Email != "" {
		s.notify.Enqueue(types.NotificationKindEntitlementActivated, user.Email, map[string]any{
			"plan_name":   in.Plan.Name,
			"valid_until": validUntil,
		})
	}
	if s.forward != nil {
		s.forward.Forward(ctx, types.StatusUpdate{
			Source:      types.GatewayStripe,
			Type:        in.EventType,
			Status:      status,
			UserID:      user.ID,
			PlanID:      in.Plan.ID,
			ValidUntil:  validUntil,
			AccessScope: in.Plan.AccessScope,
			CourseIDs:   in.Plan.CourseIDs,
		}, in.TestMode)
	}
	return nil
}

// validityWindow picks the entitlement expiry: the provider's period end
// when present, otherwise the plan duration from now, otherwise open-ended.
func (s *Service) validityWindow(plan *models.Plan, sub *types.ProviderSubscription, now time.Time) *time.Time {
	if sub != nil && sub.CurrentPeriodEnd != nil {
		return sub.CurrentPeriodEnd
	}
	if plan.DurationDays > 0 {
		return lo.ToPtr(now.AddDate(0, 0, plan.DurationDays))
	}
	return nil
}

func renewalState(sub *types.ProviderSubscription, subscriptionID string) types.AutoRenew {
	if sub != nil {
		if sub.CancelAtPeriodEnd {
			return types.AutoRenewDisabled
		}
		return types.AutoRenewEnabled
	}
	if subscriptionID != "" {
		return types.AutoRenewEnabled
	}
	return types.AutoRenewUnknown
}

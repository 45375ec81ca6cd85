package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/courseloom/entitlements/internal/app/store"
	"github.com/courseloom/entitlements/internal/app/store/storetest"
	"github.com/courseloom/entitlements/internal/models"
	"github.com/courseloom/entitlements/pkg/types"
)

type fakeNotifier struct {
	kinds      []types.NotificationKind
	recipients []string
}

func (f *fakeNotifier) Enqueue(kind types.NotificationKind, recipient string, payload map[string]any) bool {
	f.kinds = append(f.kinds, kind)
	f.recipients = append(f.recipients, recipient)
	return true
}

type fakeForwarder struct {
	updates []types.StatusUpdate
}

func (f *fakeForwarder) Forward(ctx context.Context, update types.StatusUpdate, testMode bool) {
	f.updates = append(f.updates, update)
}

type fakeProvider struct {
	customers map[string]*stripe.Customer
	calls     int
}

func (f *fakeProvider) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	f.calls++
	if c, ok := f.customers[id]; ok {
		return c, nil
	}
	return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "no such customer"}
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, &stripe.Error{HTTPStatusCode: 404}
}

func (f *fakeProvider) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error) {
	return nil, &stripe.Error{HTTPStatusCode: 404}
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, &stripe.Error{HTTPStatusCode: 404}
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return nil, &stripe.Error{HTTPStatusCode: 404}
}

func newTestService(mem *storetest.Store, provider *fakeProvider) (*Service, *fakeNotifier, *fakeForwarder) {
	if provider == nil {
		provider = &fakeProvider{}
	}
	notifier := &fakeNotifier{}
	forwarder := &fakeForwarder{}
	svc := NewService(mem, mem, provider, notifier, forwarder, zap.NewNop().Sugar())
	return svc, notifier, forwarder
}

func subscribedUser(mem *storetest.Store, customerID string) *models.User {
	return mem.AddUser(&models.User{
		Email:                  "subscriber@example.com",
		PasswordHash:           "x",
		SubscriptionPlanID:     lo.ToPtr("plan_full"),
		SubscriptionValidUntil: lo.ToPtr(time.Now().Add(20 * 24 * time.Hour)),
		SubscriptionAutoRenew:  types.AutoRenewEnabled,
		SubscriptionStatus:     types.EntitlementStatusActiveWithAutoRenew,
		HasFullAccess:          true,
		HasPurchased:           true,
		ExternalCustomerID:     lo.ToPtr(customerID),
	})
}

func storeFields(r types.AutoRenew) store.EntitlementFields {
	return store.EntitlementFields{AutoRenew: lo.ToPtr(r)}
}

func TestScheduledCancellationKeepsAccessUntilPeriodEnd(t *testing.T) {
	mem := storetest.New()
	user := subscribedUser(mem, "cus_1")
	svc, notifier, forwarder := newTestService(mem, nil)

	periodEnd := time.Now().Add(12 * 24 * time.Hour).Truncate(time.Second)
	err := svc.HandleUpdated(context.Background(), UpdateInput{
		EventType: "customer.subscription.updated",
		Subscription: types.ProviderSubscription{
			ID:                "sub_1",
			Status:            "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  lo.ToPtr(periodEnd),
			CustomerID:        "cus_1",
		},
	})
	require.NoError(t, err)

	got, err := mem.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AutoRenewDisabled, got.SubscriptionAutoRenew)
	assert.Equal(t, types.EntitlementStatusActiveUntilPeriodEnd, got.SubscriptionStatus)
	assert.True(t, got.SubscriptionValidUntil.Equal(periodEnd))
	assert.True(t, got.HasFullAccess)
	assert.Nil(t, got.CanceledImmediatelyAt)

	require.Len(t, notifier.kinds, 1)
	assert.Equal(t, types.NotificationKindCanceledPeriodEnd, notifier.kinds[0])
	require.Len(t, forwarder.updates, 1)
	assert.Equal(t, types.EntitlementStatusActiveUntilPeriodEnd, forwarder.updates[0].Status)
}

func TestReactivationRestoresAutoRenew(t *testing.T) {
	mem := storetest.New()
	user := subscribedUser(mem, "cus_1")
	require.NoError(t, mem.SaveEntitlement(context.Background(), user.ID, storeFields(types.AutoRenewDisabled)))
	svc, notifier, _ := newTestService(mem, nil)

	periodEnd := time.Now().Add(12 * 24 * time.Hour)
	err := svc.HandleUpdated(context.Background(), UpdateInput{
		EventType: "customer.subscription.updated",
		Subscription: types.ProviderSubscription{
			ID:               "sub_1",
			Status:           "active",
			CurrentPeriodEnd: lo.ToPtr(periodEnd),
			CustomerID:       "cus_1",
		},
	})
	require.NoError(t, err)

	got, _ := mem.GetUser(context.Background(), user.ID)
	assert.Equal(t, types.AutoRenewEnabled, got.SubscriptionAutoRenew)
	assert.Equal(t, types.EntitlementStatusActiveWithAutoRenew, got.SubscriptionStatus)
	assert.Empty(t, notifier.kinds)
}

func TestImmediateCancellationEndsAccessNow(t *testing.T) {
	mem := storetest.New()
	user := subscribedUser(mem, "cus_1")
	svc, notifier, forwarder := newTestService(mem, nil)

	canceledAt := time.Now().Add(-time.Minute).Truncate(time.Second)
	err := svc.HandleUpdated(context.Background(), UpdateInput{
		EventType: "customer.subscription.updated",
		Subscription: types.ProviderSubscription{
			ID:         "sub_1",
			Status:     "canceled",
			CanceledAt: lo.ToPtr(canceledAt),
			CustomerID: "cus_1",
		},
	})
	require.NoError(t, err)

	got, err := mem.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EntitlementStatusInactive, got.SubscriptionStatus)
	assert.False(t, got.HasFullAccess)
	require.NotNil(t, got.SubscriptionValidUntil)
	assert.True(t, got.SubscriptionValidUntil.Equal(canceledAt))
	require.NotNil(t, got.CanceledImmediatelyAt)

	rec, err := mem.GetBillingRecord(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, types.BillingStatusCanceled, rec.Status)

	require.Len(t, notifier.kinds, 1)
	assert.Equal(t, types.NotificationKindCanceledImmediate, notifier.kinds[0])
	require.Len(t, forwarder.updates, 1)
	assert.Equal(t, types.EntitlementStatusInactive, forwarder.updates[0].Status)
}

func TestDeletedEventCancelsImmediately(t *testing.T) {
	mem := storetest.New()
	user := subscribedUser(mem, "cus_1")
	svc, _, _ := newTestService(mem, nil)

	err := svc.HandleDeleted(context.Background(), UpdateInput{
		EventType: "customer.subscription.deleted",
		Subscription: types.ProviderSubscription{
			ID:         "sub_1",
			Status:     "canceled",
			CustomerID: "cus_1",
		},
	})
	require.NoError(t, err)

	got, _ := mem.GetUser(context.Background(), user.ID)
	assert.Equal(t, types.EntitlementStatusInactive, got.SubscriptionStatus)
	assert.False(t, got.HasFullAccess)
	assert.NotNil(t, got.CanceledImmediatelyAt)
}

func TestResolveUserFallsBackToCustomerEmail(t *testing.T) {
	mem := storetest.New()
	user := mem.AddUser(&models.User{
		Email:                  "subscriber@example.com",
		PasswordHash:           "x",
		SubscriptionPlanID:     lo.ToPtr("plan_full"),
		SubscriptionValidUntil: lo.ToPtr(time.Now().Add(20 * 24 * time.Hour)),
	})
	provider := &fakeProvider{customers: map[string]*stripe.Customer{
		"cus_x": {Email: "subscriber@example.com"},
	}}
	svc, _, _ := newTestService(mem, provider)

	err := svc.HandleUpdated(context.Background(), UpdateInput{
		EventType: "customer.subscription.updated",
		Subscription: types.ProviderSubscription{
			ID:                "sub_1",
			Status:            "active",
			CancelAtPeriodEnd: true,
			CustomerID:        "cus_x",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)

	got, _ := mem.GetUser(context.Background(), user.ID)
	require.NotNil(t, got.ExternalCustomerID)
	assert.Equal(t, "cus_x", *got.ExternalCustomerID)
	assert.Equal(t, types.AutoRenewDisabled, got.SubscriptionAutoRenew)
}

func TestUnknownCustomerIsIgnorable(t *testing.T) {
	mem := storetest.New()
	provider := &fakeProvider{customers: map[string]*stripe.Customer{
		"cus_x": {Email: "nobody@example.com"},
	}}
	svc, _, forwarder := newTestService(mem, provider)

	err := svc.HandleUpdated(context.Background(), UpdateInput{
		Subscription: types.ProviderSubscription{ID: "sub_1", CustomerID: "cus_x"},
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, forwarder.updates)
}

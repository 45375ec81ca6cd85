package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

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
	updates   []types.StatusUpdate
	testModes []bool
}

func (f *fakeForwarder) Forward(ctx context.Context, update types.StatusUpdate, testMode bool) {
	f.updates = append(f.updates, update)
	f.testModes = append(f.testModes, testMode)
}

func newTestService(mem *storetest.Store) (*Service, *fakeNotifier, *fakeForwarder) {
	notifier := &fakeNotifier{}
	forwarder := &fakeForwarder{}
	svc := NewService(mem, mem, mem, notifier, forwarder, zap.NewNop().Sugar())
	return svc, notifier, forwarder
}

func fullAccessPlan() *models.Plan {
	return &models.Plan{
		ID:          "plan_full",
		Name:        "All Access",
		PriceCents:  9900,
		Currency:    "BRL",
		AccessScope: types.AccessScopeFull,
	}
}

func coursePlan() *models.Plan {
	return &models.Plan{
		ID:           "plan_go_course",
		Name:         "Single Course",
		PriceCents:   4990,
		Currency:     "BRL",
		DurationDays: 365,
		AccessScope:  types.AccessScopeSpecific,
		CourseIDs:    datatypes.JSONSlice[string]{"course-1", "course-2"},
	}
}

func TestProvisionSubscriptionGrantsFullAccess(t *testing.T) {
	mem := storetest.New()
	user := mem.AddUser(&models.User{Email: "buyer@example.com", PasswordHash: "x"})
	plan := mem.AddPlan(fullAccessPlan())
	svc, notifier, forwarder := newTestService(mem)

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	err := svc.Provision(context.Background(), ProvisionInput{
		EventID:        "evt_1",
		EventType:      "checkout.session.completed",
		UserID:         user.ID,
		Plan:           plan,
		BillingID:      "cs_test_1",
		SubscriptionID: "sub_1",
		Subscription: &types.ProviderSubscription{
			ID:               "sub_1",
			Status:           "active",
			CurrentPeriodEnd: lo.ToPtr(periodEnd),
			CustomerID:       "cus_1",
		},
		AmountMinor: 9900,
		Currency:    "brl",
	})
	require.NoError(t, err)

	got, err := mem.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, *got.SubscriptionPlanID)
	assert.True(t, got.SubscriptionValidUntil.Equal(periodEnd))
	assert.Equal(t, types.AutoRenewEnabled, got.SubscriptionAutoRenew)
	assert.Equal(t, types.EntitlementStatusActiveWithAutoRenew, got.SubscriptionStatus)
	assert.True(t, got.HasFullAccess)
	assert.True(t, got.HasPurchased)
	assert.Equal(t, "cus_1", *got.ExternalCustomerID)

	rec, err := mem.GetBillingRecord(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, types.BillingStatusPaid, rec.Status)
	assert.Equal(t, 99.0, rec.Amount)
	assert.Equal(t, "BRL", rec.Currency)
	assert.Equal(t, types.GatewayStripe, rec.Gateway)

	require.Len(t, notifier.kinds, 1)
	assert.Equal(t, types.NotificationKindEntitlementActivated, notifier.kinds[0])
	assert.Equal(t, "buyer@example.com", notifier.recipients[0])

	require.Len(t, forwarder.updates, 1)
	assert.Equal(t, types.EntitlementStatusActiveWithAutoRenew, forwarder.updates[0].Status)
	assert.False(t, forwarder.testModes[0])
}

func TestProvisionCoursePurchaseUnionsGrants(t *testing.T) {
	mem := storetest.New()
	user := mem.AddUser(&models.User{Email: "buyer@example.com", PasswordHash: "x"})
	plan := mem.AddPlan(coursePlan())
	require.NoError(t, mem.GrantCourses(context.Background(), user.ID, []string{"course-2", "course-9"}))
	svc, _, forwarder := newTestService(mem)

	err := svc.Provision(context.Background(), ProvisionInput{
		EventType:   "checkout.session.completed",
		UserID:      user.ID,
		Plan:        plan,
		BillingID:   "cs_test_2",
		AmountMinor: 4990,
		Currency:    "brl",
	})
	require.NoError(t, err)

	// Union with existing grants, no duplicates.
	assert.Equal(t, []string{"course-1", "course-2", "course-9"}, mem.GrantedCourses(user.ID))

	got, err := mem.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, got.HasFullAccess)
	assert.True(t, got.HasPurchased)
	// No subscription object and no subscription id: renewal unknown.
	assert.Equal(t, types.AutoRenewUnknown, got.SubscriptionAutoRenew)
	assert.Equal(t, types.EntitlementStatusActive, got.SubscriptionStatus)
	// Plan duration sets the window when the provider gives no period end.
	require.NotNil(t, got.SubscriptionValidUntil)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 365), *got.SubscriptionValidUntil, time.Minute)

	require.Len(t, forwarder.updates, 1)
	assert.Equal(t, []string{"course-1", "course-2"}, forwarder.updates[0].CourseIDs)
	assert.Equal(t, types.AccessScopeSpecific, forwarder.updates[0].AccessScope)
}

func TestProvisionIsIdempotent(t *testing.T) {
	mem := storetest.New()
	user := mem.AddUser(&models.User{Email: "buyer@example.com", PasswordHash: "x"})
	plan := mem.AddPlan(coursePlan())
	svc, _, _ := newTestService(mem)

	in := ProvisionInput{
		EventType:   "invoice.payment_succeeded",
		UserID:      user.ID,
		Plan:        plan,
		BillingID:   "in_test_1",
		AmountMinor: 4990,
		Currency:    "brl",
	}
	require.NoError(t, svc.Provision(context.Background(), in))
	require.NoError(t, svc.Provision(context.Background(), in))

	assert.Len(t, mem.Records, 1)
	assert.Equal(t, []string{"course-1", "course-2"}, mem.GrantedCourses(user.ID))
}

func TestProvisionClearsImmediateCancelMarker(t *testing.T) {
	mem := storetest.New()
	user := mem.AddUser(&models.User{
		Email:                 "buyer@example.com",
		PasswordHash:          "x",
		CanceledImmediatelyAt: lo.ToPtr(time.Now().Add(-time.Hour)),
	})
	plan := mem.AddPlan(fullAccessPlan())
	svc, _, _ := newTestService(mem)

	err := svc.Provision(context.Background(), ProvisionInput{
		EventType:      "checkout.session.completed",
		UserID:         user.ID,
		Plan:           plan,
		BillingID:      "cs_test_3",
		SubscriptionID: "sub_2",
		AmountMinor:    9900,
		Currency:       "brl",
	})
	require.NoError(t, err)

	got, err := mem.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CanceledImmediatelyAt)
	// Subscription id known without the object: assume renewal stays on.
	assert.Equal(t, types.AutoRenewEnabled, got.SubscriptionAutoRenew)
}

func TestProvisionAmountConversion(t *testing.T) {
	assert.Equal(t, 49.9, MinorUnitsToAmount(4990))
	assert.Equal(t, 0.01, MinorUnitsToAmount(1))
	assert.Equal(t, 0.0, MinorUnitsToAmount(0))
	assert.Equal(t, 1234.56, MinorUnitsToAmount(123456))
}

func TestProvisionUnknownUserFails(t *testing.T) {
	mem := storetest.New()
	plan := mem.AddPlan(coursePlan())
	svc, _, forwarder := newTestService(mem)

	err := svc.Provision(context.Background(), ProvisionInput{
		UserID:    "missing",
		Plan:      plan,
		BillingID: "cs_test_4",
	})
	require.Error(t, err)
	assert.Empty(t, forwarder.updates)
	assert.Empty(t, mem.Records)
}

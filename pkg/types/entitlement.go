package types

// EntitlementStatus is the derived lifecycle state of a user's subscription.
type EntitlementStatus string

const (
	EntitlementStatusInactive             EntitlementStatus = "inactive"
	EntitlementStatusActive               EntitlementStatus = "active"
	EntitlementStatusActiveUntilPeriodEnd EntitlementStatus = "active_until_period_end"
	EntitlementStatusActiveWithAutoRenew  EntitlementStatus = "active_with_auto_renew"
)

// IsActive reports whether a status grants access.
func (s EntitlementStatus) IsActive() bool {
	return s != EntitlementStatusInactive && s != ""
}

// AutoRenew models the provider's renewal intent explicitly instead of a
// three-way truthy flag: the provider may not have told us yet (unknown),
// or the subscriber may have renewal on or off.
type AutoRenew string

const (
	AutoRenewUnknown  AutoRenew = "unknown"
	AutoRenewEnabled  AutoRenew = "enabled"
	AutoRenewDisabled AutoRenew = "disabled"
)

type AccessScope string

const (
	AccessScopeFull     AccessScope = "full"
	AccessScopeSpecific AccessScope = "specific"
)

// BillingStatus is the ledger record state. Transitions are forward-only:
// a paid record never moves back to pending.
type BillingStatus string

const (
	BillingStatusPending  BillingStatus = "pending"
	BillingStatusPaid     BillingStatus = "paid"
	BillingStatusCanceled BillingStatus = "canceled"
	BillingStatusFailed   BillingStatus = "failed"
)

// billingStatusRank orders statuses so upserts can refuse downgrades.
var billingStatusRank = map[BillingStatus]int{
	BillingStatusPending:  0,
	BillingStatusCanceled: 1,
	BillingStatusFailed:   1,
	BillingStatusPaid:     2,
}

// CanTransitionTo reports whether moving from s to next is a forward move.
func (s BillingStatus) CanTransitionTo(next BillingStatus) bool {
	return billingStatusRank[next] >= billingStatusRank[s]
}

const GatewayStripe = "stripe"

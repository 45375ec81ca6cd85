package types

import "time"

// NotificationKind identifies a user-facing notification template.
type NotificationKind string

const (
	NotificationKindPasswordSetup        NotificationKind = "password_setup"
	NotificationKindEntitlementActivated NotificationKind = "entitlement_activated"
	NotificationKindCanceledImmediate    NotificationKind = "subscription_canceled_immediate"
	NotificationKindCanceledPeriodEnd    NotificationKind = "subscription_canceled_period_end"
)

// ProviderSubscription is the slice of a provider subscription object the
// reconciliation core cares about.
type ProviderSubscription struct {
	ID                string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	CanceledAt        *time.Time
	CustomerID        string
	PriceID           string
}

// StatusUpdate is the normalized payload forwarded to the downstream URL
// after an entitlement change.
type StatusUpdate struct {
	Source      string            `json:"source"`
	Type        string            `json:"type"`
	Status      EntitlementStatus `json:"status"`
	UserID      string            `json:"user_id"`
	PlanID      string            `json:"plan_id,omitempty"`
	ValidUntil  *time.Time        `json:"valid_until,omitempty"`
	AccessScope AccessScope       `json:"access_scope,omitempty"`
	CourseIDs   []string          `json:"course_ids,omitempty"`
}

package models

import (
	"time"

	"github.com/courseloom/entitlements/pkg/types"
)

// User carries the entitlement-relevant fields of a platform account.
// SubscriptionStatus is a cache of the calculator's output; readers that
// cannot tolerate staleness recompute from the inputs instead.
type User struct {
	ID           string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email        string `gorm:"column:email;type:varchar(255);not null;uniqueIndex" json:"email"`
	DisplayName  string `gorm:"column:display_name;type:varchar(255)" json:"display_name"`
	PasswordHash string `gorm:"column:password_hash;type:varchar(255)" json:"-"`

	SubscriptionPlanID     *string                 `gorm:"column:subscription_plan_id;type:varchar(64)" json:"subscription_plan_id"`
	SubscriptionValidUntil *time.Time              `gorm:"column:subscription_valid_until" json:"subscription_valid_until"`
	SubscriptionAutoRenew  types.AutoRenew         `gorm:"column:subscription_auto_renew;type:varchar(16);default:'unknown'" json:"subscription_auto_renew"`
	SubscriptionStatus     types.EntitlementStatus `gorm:"column:subscription_status;type:varchar(32);default:'inactive'" json:"subscription_status"`

	HasFullAccess  bool `gorm:"column:has_full_access;not null;default:false" json:"has_full_access"`
	HasPurchased   bool `gorm:"column:has_purchased;not null;default:false" json:"has_purchased"`
	LifetimeAccess bool `gorm:"column:lifetime_access;not null;default:false" json:"lifetime_access"`

	ExternalCustomerID *string `gorm:"column:external_customer_id;type:varchar(128);index" json:"external_customer_id"`

	// CanceledImmediatelyAt marks an immediate provider-side cancellation;
	// a later successful payment clears it.
	CanceledImmediatelyAt *time.Time `gorm:"column:canceled_immediately_at" json:"canceled_immediately_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// IsShadow reports whether the account was auto-provisioned from payment
// data and its owner has not set a password yet.
func (u *User) IsShadow() bool {
	return u != nil && u.PasswordHash == ""
}

// CourseGrant links a user to one granted course. The composite unique
// index makes grant writes set-union: replayed deliveries insert nothing.
type CourseGrant struct {
	UserID    string    `gorm:"column:user_id;type:uuid;not null;uniqueIndex:unique_user_course,priority:1" json:"user_id"`
	CourseID  string    `gorm:"column:course_id;type:varchar(64);not null;uniqueIndex:unique_user_course,priority:2" json:"course_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (CourseGrant) TableName() string { return "course_grant" }

package models

import (
	"time"

	"github.com/courseloom/entitlements/pkg/types"
)

// BillingRecord is the local ledger entry for one external transaction.
// BillingID is the provider's natural key (checkout-session id,
// subscription id, or payment-intent id), never generated locally, so
// duplicate deliveries upsert the same row.
type BillingRecord struct {
	ID        string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	BillingID string              `gorm:"column:billing_id;type:varchar(128);not null;uniqueIndex" json:"billing_id"`
	UserID    string              `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	PlanID    *string             `gorm:"column:plan_id;type:varchar(64)" json:"plan_id"`
	CourseID  *string             `gorm:"column:course_id;type:varchar(64)" json:"course_id"`
	Status    types.BillingStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Amount    float64             `gorm:"column:amount;type:numeric(12,2);not null;default:0" json:"amount"`
	Currency  string              `gorm:"column:currency;type:varchar(8)" json:"currency"`
	Gateway   string              `gorm:"column:gateway;type:varchar(32);not null" json:"gateway"`
	PaidAt    *time.Time          `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (BillingRecord) TableName() string { return "billing_record" }

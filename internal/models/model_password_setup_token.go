package models

import "time"

// PasswordSetupToken is the one-time token mailed to a shadow user so the
// account owner can claim it. Valid for seven days from issuance.
type PasswordSetupToken struct {
	ID        string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID    string     `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Token     string     `gorm:"column:token;type:text;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (PasswordSetupToken) TableName() string { return "password_setup_token" }

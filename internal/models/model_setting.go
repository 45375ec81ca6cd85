package models

import "time"

// Setting is a persisted key/value pair. Used as the last-resort source
// for rotated webhook secrets when neither config nor environment has one.
type Setting struct {
	Key       string    `gorm:"column:key;type:varchar(128);primary_key" json:"key"`
	Value     string    `gorm:"column:value;type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "setting" }

const SettingKeyWebhookSecrets = "webhook_secrets"

package model

import "time"

// PushSubscription holds a browser push endpoint registered by an admin.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	AccountID string    `gorm:"size:64;index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

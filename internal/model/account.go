package model

import "time"

// Role of an account in the surrounding system.
type Role string

const (
	RoleStudent  Role = "student"
	RoleSecurity Role = "security"
	RoleAdmin    Role = "admin"
)

// Account is the slice of the user record this service reads. Accounts are
// owned by the auth layer; only approved admins receive overstay alerts.
type Account struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Role      Role      `gorm:"size:16;index;not null"`
	Approved  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

// Notification is an in-app inbox message for one account.
type Notification struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"size:64;index;not null" json:"account_id"`
	Message   string    `gorm:"not null" json:"message"`
	Read      bool      `gorm:"not null" json:"read"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

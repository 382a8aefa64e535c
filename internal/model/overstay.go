package model

import "time"

// Overstay is a persisted record of a subject detected outside longer than
// the threshold. At most one exists per (SubjectID, CheckoutInstant).
type Overstay struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	SubjectID          string     `gorm:"size:64;not null;uniqueIndex:idx_overstay_subject_checkout,priority:1" json:"subject_id"`
	Name               string     `gorm:"size:256" json:"name"`
	Group              string     `gorm:"column:group_name;size:128" json:"group"`
	Cohort             int        `json:"cohort"`
	Purpose            *string    `gorm:"size:512" json:"purpose,omitempty"`
	CheckoutInstant    time.Time  `gorm:"not null;uniqueIndex:idx_overstay_subject_checkout,priority:2" json:"checkout_instant"`
	FlaggedAt          time.Time  `gorm:"not null;index:idx_overstay_resolved_flagged,priority:2" json:"flagged_at"`
	HoursOutsideAtFlag float64    `json:"hours_outside_at_flag"`
	Resolved           bool       `gorm:"not null;index:idx_overstay_resolved_flagged,priority:1" json:"resolved"`
	CheckInTime        *time.Time `json:"check_in_time,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	NotifiedAt         *time.Time `json:"notified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

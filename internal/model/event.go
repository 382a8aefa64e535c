package model

import (
	"fmt"
	"time"
)

// Action is the kind of gate movement an event records.
type Action string

const (
	ActionCheckIn  Action = "check-in"
	ActionCheckOut Action = "check-out"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionCheckIn, ActionCheckOut:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", raw)
	}
}

// Recorder identifies who wrote an event.
const (
	RecordedBySecurity = "security"
	RecordedBySystem   = "system"
)

// GateEvent is a single append-only check-in or check-out record.
// Name, Group and Cohort are snapshots taken when the event was written.
type GateEvent struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SubjectID    string     `gorm:"index;size:64;not null" json:"subject_id"`
	Action       Action     `gorm:"size:16;not null" json:"action"`
	Timestamp    time.Time  `gorm:"column:occurred_at;index;not null" json:"timestamp"`
	CheckInTime  *time.Time `gorm:"index" json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `gorm:"index" json:"check_out_time,omitempty"`
	Purpose      *string    `gorm:"size:512" json:"purpose,omitempty"`
	Name         string     `gorm:"size:256" json:"name"`
	Group        string     `gorm:"column:group_name;size:128" json:"group"`
	Cohort       int        `json:"cohort"`
	RecordedBy   string     `gorm:"size:16;not null" json:"recorded_by"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

// EffectiveAt is the instant the event is considered to have happened: the
// designated check-out time for a check-out when present, else Timestamp.
func (e GateEvent) EffectiveAt() time.Time {
	if e.Action == ActionCheckOut && e.CheckOutTime != nil && !e.CheckOutTime.IsZero() {
		return *e.CheckOutTime
	}
	return e.Timestamp
}

// PurposeOrEmpty returns the purpose text or "".
func (e GateEvent) PurposeOrEmpty() string {
	if e.Purpose == nil {
		return ""
	}
	return *e.Purpose
}

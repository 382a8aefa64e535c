package store

import (
	"time"

	"gatepass-backend/internal/model"
)

// EventQuery selects events from the log. Zero values mean unbounded.
type EventQuery struct {
	Since       *time.Time
	Until       *time.Time
	SubjectID   string
	NewestFirst bool
	Limit       int
}

// UpsertResult reports whether UpsertIfAbsent created the flag it returns.
type UpsertResult struct {
	Created bool
	Flag    model.Overstay
}

// Qualification keeps flags that currently count as an overstay: flagged
// with at least MinHours, or checked out no later than CheckoutBefore.
type Qualification struct {
	MinHours       float64
	CheckoutBefore time.Time
}

// FlagFilter narrows ListFlags. Nil fields are not applied.
type FlagFilter struct {
	Resolved    *bool
	SubjectID   string
	FlaggedFrom *time.Time
	FlaggedTo   *time.Time
	Qualifying  *Qualification
}

// PurgeResult counts rows removed by a retention sweep.
type PurgeResult struct {
	Cutoff        time.Time
	Events        int64
	Overstays     int64
	Notifications int64
}

package overstay

import (
	"math"
	"time"

	"gatepass-backend/internal/model"
)

// FlagView is a flag with its duration computed at read time.
type FlagView struct {
	model.Overstay
	DurationHours float64 `json:"duration_hours"`
}

// RoundHours converts d to hours rounded to one decimal place.
func RoundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*10) / 10
}

// ResolutionEnd picks the instant a resolved flag stopped counting, in
// priority order: the check-in time, then the resolution time, then the
// flag time. fallback is used when none is set.
func ResolutionEnd(f model.Overstay, fallback time.Time) time.Time {
	for _, candidate := range []*time.Time{f.CheckInTime, f.ResolvedAt, &f.FlaggedAt} {
		if candidate != nil && !candidate.IsZero() {
			return *candidate
		}
	}
	return fallback
}

// LiveDuration is how long the subject was (or still is) outside. Open flags
// are measured to now; the stored HoursOutsideAtFlag snapshot is never used
// for them.
func LiveDuration(f model.Overstay, now time.Time) time.Duration {
	if f.CheckoutInstant.IsZero() {
		return time.Duration(f.HoursOutsideAtFlag * float64(time.Hour))
	}
	end := now
	if f.Resolved {
		end = ResolutionEnd(f, now)
	}
	d := end.Sub(f.CheckoutInstant)
	if d < 0 {
		return 0
	}
	return d
}

// View builds the read model for f as of now.
func View(f model.Overstay, now time.Time) FlagView {
	return FlagView{Overstay: f, DurationHours: RoundHours(LiveDuration(f, now))}
}

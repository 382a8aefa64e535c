package overstay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gatepass-backend/internal/model"
)

func TestRoundHours(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want float64
	}{
		{0, 0},
		{6 * time.Hour, 6},
		{7*time.Hour + 30*time.Minute, 7.5},
		{6*time.Hour + 2*time.Minute, 6},
		{6*time.Hour + 4*time.Minute, 6.1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundHours(tt.in), tt.in.String())
	}
}

func TestResolutionEnd(t *testing.T) {
	checkIn := t0.Add(8 * time.Hour)
	resolvedAt := t0.Add(9 * time.Hour)
	fallback := t0.Add(20 * time.Hour)
	flagged := t0.Add(7 * time.Hour)

	tests := []struct {
		name string
		flag model.Overstay
		want time.Time
	}{
		{"check-in wins", model.Overstay{CheckInTime: &checkIn, ResolvedAt: &resolvedAt, FlaggedAt: flagged}, checkIn},
		{"resolved at", model.Overstay{ResolvedAt: &resolvedAt, FlaggedAt: flagged}, resolvedAt},
		{"flagged at", model.Overstay{FlaggedAt: flagged}, flagged},
		{"fallback", model.Overstay{}, fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, ResolutionEnd(tt.flag, fallback).Equal(tt.want))
		})
	}
}

func TestLiveDuration(t *testing.T) {
	now := t0.Add(10 * time.Hour)
	checkIn := t0.Add(8 * time.Hour)

	open := model.Overstay{CheckoutInstant: t0, HoursOutsideAtFlag: 6}
	assert.Equal(t, 10*time.Hour, LiveDuration(open, now))

	closed := model.Overstay{CheckoutInstant: t0, Resolved: true, CheckInTime: &checkIn, HoursOutsideAtFlag: 6}
	assert.Equal(t, 8*time.Hour, LiveDuration(closed, now))

	future := model.Overstay{CheckoutInstant: now.Add(time.Hour)}
	assert.Equal(t, time.Duration(0), LiveDuration(future, now))

	legacy := model.Overstay{HoursOutsideAtFlag: 6.5}
	assert.Equal(t, 6*time.Hour+30*time.Minute, LiveDuration(legacy, now))
}

package overstay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatepass-backend/config"
	"gatepass-backend/internal/model"
	"gatepass-backend/internal/presence"
	"gatepass-backend/internal/store"
)

var (
	// ErrNotFound is returned when a flag id does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidAction is returned for an action other than check-in or check-out.
	ErrInvalidAction = errors.New("invalid action")
	// ErrMissingSubject is returned when an event has no subject id.
	ErrMissingSubject = errors.New("subject id is required")
	// ErrCooldown is matched by CooldownError.
	ErrCooldown = errors.New("subject was just processed")
	// ErrInvalidMinHours is returned for a listing threshold outside [0, config.MaxHours].
	ErrInvalidMinHours = errors.New("minHours is out of range")
)

// CooldownError rejects an event that follows the subject's previous event
// too closely, usually a double scan at the gate.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s, try again in %ds", ErrCooldown, int(math.Ceil(e.Remaining.Seconds())))
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldown }

// Settings are the thresholds the read and write paths share with the
// scheduler.
type Settings struct {
	Threshold time.Duration
	Lookback  time.Duration
	Cooldown  time.Duration
}

// Service is the entry point for terminals and admins.
type Service struct {
	events     store.EventStore
	flags      store.FlagStore
	detector   *Detector
	reconciler *Reconciler
	clock      Clock
	settings   Settings
	log        *zap.Logger
}

// NewService wires the read and write paths around a detector and reconciler.
func NewService(events store.EventStore, flags store.FlagStore, detector *Detector, reconciler *Reconciler, clock Clock, settings Settings, log *zap.Logger) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		events:     events,
		flags:      flags,
		detector:   detector,
		reconciler: reconciler,
		clock:      clock,
		settings:   settings,
		log:        log.Named("service"),
	}
}

// Settings returns the configured thresholds.
func (s *Service) Settings() Settings { return s.settings }

// RecordEventInput is what a security terminal submits.
type RecordEventInput struct {
	SubjectID string
	Action    string
	Purpose   string
	// At is the client supplied time of the scan; nil means now.
	At         *time.Time
	Name       string
	Group      string
	Cohort     int
	RecordedBy string
}

// RecordEvent appends a gate event and, for a check-in, closes the subject's
// open overstays before returning.
func (s *Service) RecordEvent(ctx context.Context, in RecordEventInput) (model.GateEvent, error) {
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return model.GateEvent{}, ErrMissingSubject
	}
	action, err := model.ParseAction(in.Action)
	if err != nil {
		return model.GateEvent{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	at := s.clock.Now()
	if in.At != nil && !in.At.IsZero() {
		at = in.At.UTC()
	}

	if s.settings.Cooldown > 0 {
		prev, err := s.events.LatestEvent(ctx, subjectID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return model.GateEvent{}, err
		default:
			// Backdated events from an offline terminal (negative gap) are accepted.
			gap := at.Sub(prev.Timestamp)
			if gap >= 0 && gap < s.settings.Cooldown {
				return model.GateEvent{}, &CooldownError{Remaining: s.settings.Cooldown - gap}
			}
		}
	}

	ev := model.GateEvent{
		SubjectID:  subjectID,
		Action:     action,
		Timestamp:  at,
		Name:       in.Name,
		Group:      in.Group,
		Cohort:     in.Cohort,
		RecordedBy: in.RecordedBy,
	}
	switch action {
	case model.ActionCheckIn:
		ev.CheckInTime = &at
	case model.ActionCheckOut:
		ev.CheckOutTime = &at
		if p := strings.TrimSpace(in.Purpose); p != "" {
			ev.Purpose = &p
		}
	}

	if _, err := s.events.AppendEvent(ctx, &ev); err != nil {
		return model.GateEvent{}, err
	}

	if action == model.ActionCheckIn {
		if _, err := s.reconciler.Reconcile(ctx, subjectID, ev.Timestamp); err != nil {
			// The event is already durable; the flag stays open for an admin to resolve.
			s.log.Error("failed to reconcile overstay after check-in",
				zap.String("subject_id", subjectID), zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return ev, nil
}

// ListFilter narrows ListOverstays. Nil fields take their defaults.
type ListFilter struct {
	// Resolved defaults to false: only open overstays.
	Resolved *bool
	From     *time.Time
	To       *time.Time
	// MinHours defaults to the configured threshold.
	MinHours *float64
	// Refresh runs a full rescan before listing.
	Refresh bool
}

// ListOverstays returns matching flags with their live duration.
func (s *Service) ListOverstays(ctx context.Context, f ListFilter) ([]FlagView, error) {
	minHours := s.settings.Threshold.Hours()
	if f.MinHours != nil {
		if *f.MinHours < 0 || *f.MinHours > config.MaxHours {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMinHours, *f.MinHours)
		}
		minHours = *f.MinHours
	}
	minDuration := config.Hours(minHours)

	if f.Refresh {
		res, err := s.detector.RescanAll(ctx, minDuration)
		if err != nil {
			return nil, fmt.Errorf("rescan failed: %w", err)
		}
		s.log.Info("overstay rescan finished", zap.Int("checked", res.Checked), zap.Int("flagged", res.Flagged))
	}

	resolved := false
	if f.Resolved != nil {
		resolved = *f.Resolved
	}
	now := s.clock.Now()
	flags, err := s.flags.ListFlags(ctx, store.FlagFilter{
		Resolved:    &resolved,
		FlaggedFrom: f.From,
		FlaggedTo:   f.To,
		Qualifying: &store.Qualification{
			MinHours:       minHours,
			CheckoutBefore: now.Add(-minDuration),
		},
	})
	if err != nil {
		return nil, err
	}

	views := make([]FlagView, len(flags))
	for i, flag := range flags {
		views[i] = View(flag, now)
	}
	return views, nil
}

// ResolveOverstay closes a flag by id without a matching check-in.
func (s *Service) ResolveOverstay(ctx context.Context, id string) error {
	if err := s.flags.ResolveByID(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("overstay resolved manually", zap.String("flag_id", id))
	return nil
}

// OutsideView is a subject currently outside campus.
type OutsideView struct {
	SubjectID    string    `json:"subject_id"`
	Name         string    `json:"name"`
	Group        string    `json:"group"`
	Cohort       int       `json:"cohort"`
	Purpose      *string   `json:"purpose,omitempty"`
	Since        time.Time `json:"since"`
	HoursOutside float64   `json:"hours_outside"`
	Overstaying  bool      `json:"overstaying"`
}

// CurrentlyOutside lists subjects whose last event in the lookback window is
// a check-out, longest outside first.
func (s *Service) CurrentlyOutside(ctx context.Context) ([]OutsideView, error) {
	now := s.clock.Now()
	since := now.Add(-s.settings.Lookback)
	events, err := s.events.QueryEvents(ctx, store.EventQuery{Since: &since})
	if err != nil {
		return nil, err
	}

	out := make([]OutsideView, 0)
	for _, last := range presence.Resolve(events) {
		state, err := presence.Classify(last)
		if err != nil {
			s.log.Warn("skipping subject with unknown action", zap.String("subject_id", last.SubjectID), zap.Error(err))
			continue
		}
		if state.Location != presence.Outside {
			continue
		}
		elapsed := now.Sub(state.Since)
		if elapsed < 0 {
			elapsed = 0
		}
		out = append(out, OutsideView{
			SubjectID:    last.SubjectID,
			Name:         last.Name,
			Group:        last.Group,
			Cohort:       last.Cohort,
			Purpose:      last.Purpose,
			Since:        state.Since,
			HoursOutside: RoundHours(elapsed),
			Overstaying:  elapsed >= s.settings.Threshold,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out, nil
}

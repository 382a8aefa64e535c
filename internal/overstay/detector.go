// Package overstay flags subjects who stay outside campus past a threshold
// and closes those flags when they come back.
package overstay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gatepass-backend/internal/metrics"
	"gatepass-backend/internal/model"
	"gatepass-backend/internal/notification"
	"gatepass-backend/internal/presence"
	"gatepass-backend/internal/store"
)

// Result summarises one detector pass. Notified counts messages, one per
// recipient per newly notified flag.
type Result struct {
	Checked  int `json:"checked"`
	Flagged  int `json:"flagged"`
	Notified int `json:"notified"`
}

// Detector scans the event log for subjects outside past the threshold.
// Subjects are processed one at a time; a scan costs one flag upsert per
// overstaying subject, which bounds how large a campus one tick can cover.
type Detector struct {
	events     store.EventStore
	flags      store.FlagStore
	recipients store.RecipientStore
	sink       notification.Sink
	clock      Clock
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// DetectorDeps are the collaborators of a Detector.
type DetectorDeps struct {
	Events     store.EventStore
	Flags      store.FlagStore
	Recipients store.RecipientStore
	Sink       notification.Sink
	Clock      Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// NewDetector creates a detector. Clock and Logger default to the wall clock
// and a no-op logger.
func NewDetector(deps DetectorDeps) *Detector {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Detector{
		events:     deps.Events,
		flags:      deps.Flags,
		recipients: deps.Recipients,
		sink:       deps.Sink,
		clock:      deps.Clock,
		log:        deps.Logger.Named("overstay"),
		metrics:    deps.Metrics,
	}
}

// DetectAndFlag scans events from the last lookback, flags every subject
// outside for at least threshold, and notifies admins once per flag.
func (d *Detector) DetectAndFlag(ctx context.Context, threshold, lookback time.Duration) (Result, error) {
	started := time.Now()
	now := d.clock.Now()
	since := now.Add(-lookback)

	events, err := d.events.QueryEvents(ctx, store.EventQuery{Since: &since})
	if err != nil {
		d.metrics.ScanFinished("periodic", time.Since(started).Seconds(), err)
		return Result{}, fmt.Errorf("failed to load events since %s: %w", since.Format(time.RFC3339), err)
	}

	res, err := d.scan(ctx, events, now, threshold, true)
	d.metrics.ScanFinished("periodic", time.Since(started).Seconds(), err)
	return res, err
}

// RescanAll runs detection over the whole event log. It creates missing
// flags but leaves notification to the periodic scan.
func (d *Detector) RescanAll(ctx context.Context, threshold time.Duration) (Result, error) {
	started := time.Now()
	now := d.clock.Now()

	events, err := d.events.QueryEvents(ctx, store.EventQuery{})
	if err != nil {
		d.metrics.ScanFinished("rescan", time.Since(started).Seconds(), err)
		return Result{}, fmt.Errorf("failed to load events for rescan: %w", err)
	}

	res, err := d.scan(ctx, events, now, threshold, false)
	d.metrics.ScanFinished("rescan", time.Since(started).Seconds(), err)
	return res, err
}

func (d *Detector) scan(ctx context.Context, events []model.GateEvent, now time.Time, threshold time.Duration, notify bool) (Result, error) {
	if len(events) == 0 {
		return Result{}, nil
	}

	for _, a := range presence.Anomalies(events) {
		d.log.Warn("consecutive duplicate gate actions",
			zap.String("subject_id", a.SubjectID),
			zap.String("action", string(a.Action)),
			zap.Time("first", a.First),
			zap.Time("second", a.Second))
	}

	last := presence.Resolve(events)
	res := Result{Checked: len(last)}

	var recipients []string
	if notify {
		var err error
		recipients, err = d.recipients.ApprovedAdmins(ctx)
		if err != nil {
			return res, fmt.Errorf("failed to load notification recipients: %w", err)
		}
	}

	subjects := make([]string, 0, len(last))
	for id := range last {
		subjects = append(subjects, id)
	}
	sort.Strings(subjects)

	for _, id := range subjects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		flagged, notified, err := d.processSubject(ctx, events, last[id], now, threshold, recipients)
		if err != nil {
			d.log.Error("overstay check failed for subject", zap.String("subject_id", id), zap.Error(err))
			continue
		}
		if flagged {
			res.Flagged++
		}
		res.Notified += notified
	}
	return res, nil
}

func (d *Detector) processSubject(ctx context.Context, window []model.GateEvent, last model.GateEvent, now time.Time, threshold time.Duration, recipients []string) (bool, int, error) {
	state, err := presence.Classify(last)
	if err != nil {
		return false, 0, err
	}
	switch state.Location {
	case presence.Inside:
		return false, 0, nil
	case presence.Outside:
	default:
		return false, 0, fmt.Errorf("unhandled presence %s", state.Location)
	}

	checkoutAt := state.Since
	elapsed := now.Sub(checkoutAt)
	if elapsed < threshold {
		return false, 0, nil
	}
	if hasCheckInAfter(window, last.SubjectID, checkoutAt) {
		return false, 0, nil
	}

	hours := RoundHours(elapsed)
	up, err := d.flags.UpsertIfAbsent(ctx, model.Overstay{
		SubjectID:          last.SubjectID,
		Name:               last.Name,
		Group:              last.Group,
		Cohort:             last.Cohort,
		Purpose:            last.Purpose,
		CheckoutInstant:    checkoutAt,
		FlaggedAt:          now,
		HoursOutsideAtFlag: hours,
	})
	if err != nil {
		return false, 0, err
	}
	if up.Created {
		d.metrics.FlagCreated()
		d.log.Info("overstay flagged",
			zap.String("subject_id", last.SubjectID),
			zap.Time("checkout_instant", checkoutAt),
			zap.Float64("hours_outside", hours))

		// A check-in committed after the window was read may have reconciled
		// before this flag existed.
		returned, err := d.returnedSince(ctx, last.SubjectID, checkoutAt)
		if err != nil {
			return true, 0, err
		}
		if returned != nil {
			n, err := d.flags.ResolveOpenFor(ctx, last.SubjectID, *returned)
			if err != nil {
				return true, 0, err
			}
			d.metrics.FlagsReconciled(n)
			d.log.Info("overstay closed by concurrent check-in",
				zap.String("subject_id", last.SubjectID),
				zap.Time("check_in_time", *returned))
			return true, 0, nil
		}
	}

	if up.Flag.Resolved || up.Flag.NotifiedAt != nil || len(recipients) == 0 {
		return up.Created, 0, nil
	}
	won, err := d.flags.MarkNotified(ctx, up.Flag.ID, now)
	if err != nil {
		return up.Created, 0, err
	}
	if !won {
		return up.Created, 0, nil
	}

	msg := Message(last, hours)
	for _, r := range recipients {
		err := d.sink.Send(ctx, r, msg)
		d.metrics.NotificationSent(err)
		if err != nil {
			d.log.Warn("overstay notification failed",
				zap.String("recipient_id", r),
				zap.String("flag_id", up.Flag.ID),
				zap.Error(err))
		}
	}
	return up.Created, len(recipients), nil
}

// returnedSince returns the time of the subject's latest event when it is a
// check-in later than at.
func (d *Detector) returnedSince(ctx context.Context, subjectID string, at time.Time) (*time.Time, error) {
	latest, err := d.events.LatestEvent(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if latest.Action != model.ActionCheckIn || !latest.Timestamp.After(at) {
		return nil, nil
	}
	return &latest.Timestamp, nil
}

// hasCheckInAfter reports whether the window holds a check-in for subject
// later than at.
func hasCheckInAfter(window []model.GateEvent, subjectID string, at time.Time) bool {
	for _, ev := range window {
		if ev.SubjectID == subjectID && ev.Action == model.ActionCheckIn && ev.Timestamp.After(at) {
			return true
		}
	}
	return false
}

// Message is the admin alert text for an overstaying subject.
func Message(last model.GateEvent, hours float64) string {
	purpose := last.PurposeOrEmpty()
	if purpose == "" {
		purpose = "N/A"
	}
	name := last.Name
	if name == "" {
		name = last.SubjectID
	}
	return fmt.Sprintf("Overstay: %s (%s) from batch %d stayed outside for %sh (purpose: %s)",
		name, last.SubjectID, last.Cohort, strconv.FormatFloat(hours, 'f', -1, 64), purpose)
}

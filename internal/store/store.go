package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gatepass-backend/internal/model"
)

// ErrNotFound is returned when a lookup by id or key matches nothing.
var ErrNotFound = errors.New("record not found")

// EventStore is the append-only gate event log.
type EventStore interface {
	AppendEvent(ctx context.Context, ev *model.GateEvent) (string, error)
	QueryEvents(ctx context.Context, q EventQuery) ([]model.GateEvent, error)
	LatestEvent(ctx context.Context, subjectID string) (*model.GateEvent, error)
}

// FlagStore persists overstay flags. Every mutation is a single conditional
// statement so the detector and the reconciler can interleave safely.
type FlagStore interface {
	UpsertIfAbsent(ctx context.Context, flag model.Overstay) (UpsertResult, error)
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
	ResolveOpenFor(ctx context.Context, subjectID string, at time.Time) (int64, error)
	ResolveByID(ctx context.Context, id string, at time.Time) error
	ListFlags(ctx context.Context, f FlagFilter) ([]model.Overstay, error)
}

// RecipientStore lists accounts eligible for overstay alerts.
type RecipientStore interface {
	ApprovedAdmins(ctx context.Context) ([]string, error)
}

// NotificationStore is the in-app inbox.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, accountID string, limit int) ([]model.Notification, error)
}

// Purger deletes rows older than a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error)
}

// Store defines the interface for all database operations.
type Store interface {
	EventStore
	FlagStore
	RecipientStore
	NotificationStore
	Purger
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for handlers that manage their own rows.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// AppendEvent stores a new event and returns its id.
func (s *gormStore) AppendEvent(ctx context.Context, ev *model.GateEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.Timestamp = normalize(ev.Timestamp)
	ev.CheckInTime = normalizePtr(ev.CheckInTime)
	ev.CheckOutTime = normalizePtr(ev.CheckOutTime)
	if ev.RecordedBy == "" {
		ev.RecordedBy = model.RecordedBySecurity
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return "", fmt.Errorf("failed to append event for subject %s: %w", ev.SubjectID, err)
	}
	return ev.ID, nil
}

// QueryEvents returns events matching q ordered by timestamp.
func (s *gormStore) QueryEvents(ctx context.Context, q EventQuery) ([]model.GateEvent, error) {
	tx := s.db.WithContext(ctx).Model(&model.GateEvent{})
	if q.Since != nil {
		tx = tx.Where("occurred_at >= ?", q.Since.UTC())
	}
	if q.Until != nil {
		tx = tx.Where("occurred_at <= ?", q.Until.UTC())
	}
	if q.SubjectID != "" {
		tx = tx.Where("subject_id = ?", q.SubjectID)
	}
	if q.NewestFirst {
		tx = tx.Order("occurred_at DESC")
	} else {
		tx = tx.Order("subject_id ASC").Order("occurred_at ASC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var events []model.GateEvent
	if err := tx.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// LatestEvent returns the newest event for a subject or ErrNotFound.
func (s *gormStore) LatestEvent(ctx context.Context, subjectID string) (*model.GateEvent, error) {
	var ev model.GateEvent
	err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("occurred_at DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest event for subject %s: %w", subjectID, err)
	}
	return &ev, nil
}

// UpsertIfAbsent inserts flag unless one already exists for its
// (SubjectID, CheckoutInstant) key. The unique index decides the race; the
// stored row is returned either way.
func (s *gormStore) UpsertIfAbsent(ctx context.Context, flag model.Overstay) (UpsertResult, error) {
	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	flag.CheckoutInstant = normalize(flag.CheckoutInstant)
	flag.FlaggedAt = normalize(flag.FlaggedAt)

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}, {Name: "checkout_instant"}},
		DoNothing: true,
	}).Create(&flag)
	if res.Error != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert overstay for subject %s: %w", flag.SubjectID, res.Error)
	}
	if res.RowsAffected == 1 {
		return UpsertResult{Created: true, Flag: flag}, nil
	}

	var existing model.Overstay
	if err := s.db.WithContext(ctx).
		Where("subject_id = ? AND checkout_instant = ?", flag.SubjectID, flag.CheckoutInstant).
		First(&existing).Error; err != nil {
		return UpsertResult{}, fmt.Errorf("failed to load existing overstay for subject %s: %w", flag.SubjectID, err)
	}
	return UpsertResult{Created: false, Flag: existing}, nil
}

// MarkNotified sets notified_at only if it is still unset. It reports whether
// this call won the claim.
func (s *gormStore) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Overstay{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", normalize(at))
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark overstay %s notified: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ResolveOpenFor closes every open flag for the subject.
func (s *gormStore) ResolveOpenFor(ctx context.Context, subjectID string, at time.Time) (int64, error) {
	at = normalize(at)
	res := s.db.WithContext(ctx).
		Model(&model.Overstay{}).
		Where("subject_id = ? AND resolved = ?", subjectID, false).
		Updates(map[string]any{
			"resolved":      true,
			"check_in_time": at,
			"resolved_at":   at,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to resolve overstays for subject %s: %w", subjectID, res.Error)
	}
	return res.RowsAffected, nil
}

// ResolveByID closes a single flag without a check-in. Resolving a flag that
// is already closed is a no-op.
func (s *gormStore) ResolveByID(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.Overstay{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": normalize(at),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve overstay %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Overstay{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up overstay %s: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFlags returns flags matching f, newest flagged first.
func (s *gormStore) ListFlags(ctx context.Context, f FlagFilter) ([]model.Overstay, error) {
	tx := s.db.WithContext(ctx).Model(&model.Overstay{})
	if f.Resolved != nil {
		tx = tx.Where("resolved = ?", *f.Resolved)
	}
	if f.SubjectID != "" {
		tx = tx.Where("subject_id = ?", f.SubjectID)
	}
	if f.FlaggedFrom != nil {
		tx = tx.Where("flagged_at >= ?", f.FlaggedFrom.UTC())
	}
	if f.FlaggedTo != nil {
		tx = tx.Where("flagged_at <= ?", f.FlaggedTo.UTC())
	}
	if q := f.Qualifying; q != nil {
		tx = tx.Where("(hours_outside_at_flag >= ? OR checkout_instant <= ?)", q.MinHours, q.CheckoutBefore.UTC())
	}

	var flags []model.Overstay
	if err := tx.Order("flagged_at DESC").Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("failed to list overstays: %w", err)
	}
	return flags, nil
}

// ApprovedAdmins returns the ids of approved admin accounts.
func (s *gormStore) ApprovedAdmins(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("role = ? AND approved = ?", model.RoleAdmin, true).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list admin recipients: %w", err)
	}
	return ids, nil
}

// InsertNotification writes one inbox row.
func (s *gormStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification for %s: %w", n.AccountID, err)
	}
	return nil
}

// ListNotifications returns the newest inbox rows for an account.
func (s *gormStore) ListNotifications(ctx context.Context, accountID string, limit int) ([]model.Notification, error) {
	tx := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []model.Notification
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications for %s: %w", accountID, err)
	}
	return out, nil
}

// PurgeBefore deletes events, overstays and notifications older than cutoff
// regardless of resolution state.
func (s *gormStore) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	cutoff = cutoff.UTC()
	result := PurgeResult{Cutoff: cutoff}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("occurred_at <= ? OR created_at <= ?", cutoff, cutoff).Delete(&model.GateEvent{})
		if res.Error != nil {
			return fmt.Errorf("failed to purge events: %w", res.Error)
		}
		result.Events = res.RowsAffected

		res = tx.Where("flagged_at <= ?", cutoff).Delete(&model.Overstay{})
		if res.Error != nil {
			return fmt.Errorf("failed to purge overstays: %w", res.Error)
		}
		result.Overstays = res.RowsAffected

		res = tx.Where("created_at <= ?", cutoff).Delete(&model.Notification{})
		if res.Error != nil {
			return fmt.Errorf("failed to purge notifications: %w", res.Error)
		}
		result.Notifications = res.RowsAffected
		return nil
	})
	if err != nil {
		return PurgeResult{Cutoff: cutoff}, err
	}
	return result, nil
}

// normalize stores instants in UTC at microsecond precision so the
// (subject_id, checkout_instant) key compares equal across drivers.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := normalize(*t)
	return &u
}

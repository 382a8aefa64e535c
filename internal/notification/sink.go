// Package notification delivers overstay alerts to admin accounts.
package notification

import (
	"context"
	"time"

	"gatepass-backend/internal/model"
	"gatepass-backend/internal/store"
)

// Sink sends one message to one recipient.
type Sink interface {
	Send(ctx context.Context, recipientID, message string) error
}

// InboxSink writes an in-app notification and, when a pool is configured,
// queues a web push for the same message.
type InboxSink struct {
	store store.NotificationStore
	pool  *WorkerPool
	now   func() time.Time
}

// NewInboxSink creates a sink. pool may be nil when push is not configured.
func NewInboxSink(s store.NotificationStore, pool *WorkerPool, now func() time.Time) *InboxSink {
	if now == nil {
		now = time.Now
	}
	return &InboxSink{store: s, pool: pool, now: now}
}

// Send persists the inbox row; push delivery is best effort and never fails
// the send.
func (s *InboxSink) Send(ctx context.Context, recipientID, message string) error {
	n := &model.Notification{
		AccountID: recipientID,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return err
	}
	if s.pool != nil {
		s.pool.Dispatch(PushJob{AccountID: recipientID, Message: message})
	}
	return nil
}

package notification

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gatepass-backend/internal/model"
	"gatepass-backend/internal/store"
	"gatepass-backend/internal/storetest"
)

// mockSender is a mock implementation of the PushSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_DispatchDoesNotBlock(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{}, zap.NewNop())

	for i := 0; i < cap(wp.jobs); i++ {
		require.True(t, wp.Dispatch(PushJob{AccountID: "admin-1", Message: "m"}))
	}
	assert.False(t, wp.Dispatch(PushJob{AccountID: "admin-1", Message: "overflow"}))

	job := <-wp.Jobs()
	assert.Equal(t, "admin-1", job.AccountID)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(1, gormDB, &webpush.Options{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("sends push to every subscription of the account", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)

		var mu sync.Mutex
		var endpoints []string
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				assert.Equal(t, "Overstay: Asha (S1)", string(payload))
				mu.Lock()
				endpoints = append(endpoints, sub.Endpoint)
				mu.Unlock()
				wg.Done()
				return response(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE account_id = \$1`).
			WithArgs("admin-1").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "account_id", "p256dh", "auth", "created_at"}).
				AddRow("https://push.example/a", "admin-1", "k1", "a1", time.Now()).
				AddRow("https://push.example/b", "admin-1", "k2", "a2", time.Now()))

		wp.Dispatch(PushJob{AccountID: "admin-1", Message: "Overstay: Asha (S1)"})
		wg.Wait()
		assert.ElementsMatch(t, []string{"https://push.example/a", "https://push.example/b"}, endpoints)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return response(http.StatusGone), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE account_id = \$1`).
			WithArgs("admin-2").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "account_id", "p256dh", "auth", "created_at"}).
				AddRow("https://push.example/expired", "admin-2", "k", "a", time.Now()))

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://push.example/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Dispatch(PushJob{AccountID: "admin-2", Message: "m"})

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("send error keeps subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				wg.Done()
				return nil, errors.New("push service unavailable")
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE account_id = \$1`).
			WithArgs("admin-3").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "account_id", "p256dh", "auth", "created_at"}).
				AddRow("https://push.example/flaky", "admin-3", "k", "a", time.Now()))

		wp.Dispatch(PushJob{AccountID: "admin-3", Message: "m"})
		wg.Wait()
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInboxSink_Send(t *testing.T) {
	ctx := context.Background()
	gormDB := storetest.NewDB(t)
	s := store.NewGormStore(gormDB)
	wp := NewWorkerPool(1, gormDB, &webpush.Options{}, zap.NewNop())
	fixed := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)

	sink := NewInboxSink(s, wp, func() time.Time { return fixed })
	require.NoError(t, sink.Send(ctx, "admin-1", "hello"))

	inbox, err := s.ListNotifications(ctx, "admin-1", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "hello", inbox[0].Message)
	assert.True(t, inbox[0].CreatedAt.Equal(fixed))

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, PushJob{AccountID: "admin-1", Message: "hello"}, job)
	default:
		t.Fatal("expected a queued push job")
	}

	var count int64
	require.NoError(t, gormDB.Model(&model.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInboxSink_WithoutPool(t *testing.T) {
	s := store.NewGormStore(storetest.NewDB(t))
	sink := NewInboxSink(s, nil, nil)
	assert.NoError(t, sink.Send(context.Background(), "admin-1", "hello"))
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"timeclock-backend/internal/db"
	"timeclock-backend/internal/model"
	"timeclock-backend/internal/store"
)

const testUser = "u1"

type sentPush struct {
	payload  []byte
	endpoint string
}

// mockSender records deliveries and answers with a canned status per endpoint.
type mockSender struct {
	mu       sync.Mutex
	sent     []sentPush
	statuses map[string]int
}

func newMockSender() *mockSender {
	return &mockSender{statuses: make(map[string]int)}
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentPush{payload: payload, endpoint: sub.Endpoint})

	status := http.StatusCreated
	if s, ok := m.statuses[sub.Endpoint]; ok {
		status = s
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestPool(t *testing.T, sender Sender) (*WorkerPool, store.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	s := store.NewGormStore(gormDB)

	pool := NewWorkerPool(2, s, &webpush.Options{})
	pool.SetSender(sender)
	return pool, s
}

func TestDispatch_DeliversToAllSubscriptions(t *testing.T) {
	sender := newMockSender()
	pool, s := newTestPool(t, sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/a", UserID: testUser, P256DH: "k1", Auth: "a1",
	}))
	require.NoError(t, s.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/b", UserID: testUser, P256DH: "k2", Auth: "a2",
	}))

	pool.Start(ctx)
	pool.Dispatch(Job{
		Kind:    KindForgotClockOut,
		UserID:  testUser,
		Title:   "Still on the clock?",
		Message: "You have been clocked in at Site A since 08:00.",
	})

	require.Eventually(t, func() bool {
		return sender.sentCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	var job Job
	sender.mu.Lock()
	require.NoError(t, json.Unmarshal(sender.sent[0].payload, &job))
	sender.mu.Unlock()
	assert.Equal(t, KindForgotClockOut, job.Kind)
	assert.Equal(t, "Still on the clock?", job.Title)
}

func TestDispatch_GoneSubscriptionDeleted(t *testing.T) {
	sender := newMockSender()
	sender.statuses["https://push.example/stale"] = http.StatusGone
	pool, s := newTestPool(t, sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/stale", UserID: testUser, P256DH: "k", Auth: "a",
	}))

	pool.Start(ctx)
	pool.Dispatch(Job{Kind: KindReportReminder, UserID: testUser, Title: "t", Message: "m"})

	require.Eventually(t, func() bool {
		subs, err := s.SubscriptionsForUser(ctx, testUser)
		return err == nil && len(subs) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatch_NoSubscriptionsIsQuiet(t *testing.T) {
	sender := newMockSender()
	pool, _ := newTestPool(t, sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	pool.Dispatch(Job{Kind: KindReportReminder, UserID: testUser, Title: "t", Message: "m"})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.sentCount())
}

type fakeChecker struct {
	session *model.ActiveTracking
}

func (f *fakeChecker) Sweep(context.Context) *model.ActiveTracking { return f.session }

func TestSweeper_NotifiesOncePerSession(t *testing.T) {
	sender := newMockSender()
	pool, s := newTestPool(t, sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.SaveSubscription(ctx, &model.PushSubscription{
		Endpoint: "https://push.example/a", UserID: testUser, P256DH: "k", Auth: "a",
	}))
	pool.Start(ctx)

	enterAt := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	checker := &fakeChecker{session: &model.ActiveTracking{
		UserID:       testUser,
		LocationID:   1,
		LocationName: "Site A",
		EnterAt:      enterAt,
	}}
	sweeper := NewSweeper(checker, pool, time.Minute)

	sweeper.SweepOnce(ctx)
	sweeper.SweepOnce(ctx)
	sweeper.SweepOnce(ctx)

	require.Eventually(t, func() bool {
		return sender.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sender.sentCount(), "repeat sweeps of one session must not renotify")

	// A new session with a different start is a fresh reminder.
	checker.session = &model.ActiveTracking{
		UserID:       testUser,
		LocationID:   1,
		LocationName: "Site A",
		EnterAt:      enterAt.Add(24 * time.Hour),
	}
	sweeper.SweepOnce(ctx)
	require.Eventually(t, func() bool {
		return sender.sentCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_IdleSessionNoReminder(t *testing.T) {
	sender := newMockSender()
	pool, _ := newTestPool(t, sender)
	sweeper := NewSweeper(&fakeChecker{}, pool, time.Minute)

	sweeper.SweepOnce(context.Background())
	assert.Zero(t, sender.sentCount())
}

package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"timeclock-backend/internal/store"
)

// Kind names a reminder category.
type Kind string

const (
	KindForgotClockOut Kind = "forgot_clock_out"
	KindReportReminder Kind = "report_reminder"
)

// Job is one reminder to deliver to all of a user's subscriptions.
type Job struct {
	Kind    Kind   `json:"kind"`
	UserID  string `json:"-"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers reminders in the background. Delivery is fire and
// forget: the core never blocks a clock decision on a push round trip.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   store.Store
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*4),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the delivery implementation, for tests.
func (wp *WorkerPool) SetSender(s Sender) { wp.sender = s }

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case job := <-wp.jobs:
			wp.deliver(ctx, job)
		case <-ctx.Done():
			zap.L().Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a reminder. A full queue drops the job; reminders are
// advisory and must never back-pressure the tracker.
func (wp *WorkerPool) Dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		zap.L().Warn("notification queue full, reminder dropped",
			zap.String("kind", string(job.Kind)),
			zap.String("user_id", job.UserID))
	}
}

func (wp *WorkerPool) deliver(ctx context.Context, job Job) {
	subs, err := wp.store.SubscriptionsForUser(ctx, job.UserID)
	if err != nil {
		zap.L().Error("failed to load subscriptions", zap.String("user_id", job.UserID), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		zap.L().Error("failed to marshal reminder payload", zap.Error(err))
		return
	}

	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}

		resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
		if err != nil {
			zap.L().Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusGone {
			zap.L().Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
			if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
				zap.L().Error("failed to delete expired subscription", zap.Error(err))
			}
		}
	}
}

package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"timeclock-backend/internal/aggregate"
	"timeclock-backend/internal/geofence"
	"timeclock-backend/internal/store"
	tsync "timeclock-backend/internal/sync"
	"timeclock-backend/internal/tracker"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	tracker    *tracker.Tracker
	aggregator *aggregate.Aggregator
	debouncer  *geofence.Debouncer
	reconciler *tsync.Reconciler
	webpush    *webpush.Options
	userID     string
}

// NewHandler creates a new API handler. reconciler may be nil when sync is
// disabled.
func NewHandler(s store.Store, t *tracker.Tracker, a *aggregate.Aggregator, d *geofence.Debouncer, r *tsync.Reconciler, webpushOptions *webpush.Options, userID string) *Handler {
	return &Handler{
		store:      s,
		tracker:    t,
		aggregator: a,
		debouncer:  d,
		reconciler: r,
		webpush:    webpushOptions,
		userID:     userID,
	}
}

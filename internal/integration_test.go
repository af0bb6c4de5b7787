package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"timeclock-backend/config"
	"timeclock-backend/internal/aggregate"
	"timeclock-backend/internal/api"
	"timeclock-backend/internal/db"
	"timeclock-backend/internal/geofence"
	"timeclock-backend/internal/model"
	"timeclock-backend/internal/store"
	"timeclock-backend/internal/tracker"
)

// TestWorkdayLifecycle simulates a full workday through the HTTP surface:
// noisy fence events are debounced into a session, the session closes on
// exit and the worked hours land in the daily ledger.
func TestWorkdayLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// 1. In-memory SQLite and migrations.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))
	require.NoError(t, testDB.Create(&model.Location{ID: 1, Name: "Main Office"}).Error)

	s := store.NewGormStore(testDB)

	// 2. The core wired the way main does it, with debounce windows shrunk
	// to keep the test fast.
	trackCfg := config.TrackingConfig{
		UserID:                "u1",
		AutoStartEnabled:      true,
		ExitAdjustmentMinutes: 10,
		PauseLimitMinutes:     60,
		MaxAccuracyMeters:     100,
		ReminderAfterHours:    10,
	}
	agg := aggregate.New(s, trackCfg.UserID, time.UTC)
	tr := tracker.New(s, agg, trackCfg, time.UTC, nil)
	deb := geofence.NewDebouncer(20*time.Millisecond, 20*time.Millisecond, trackCfg.MaxAccuracyMeters, func(c geofence.Confirmed) {
		tr.HandleConfirmed(context.Background(), c)
	})
	defer deb.Close()

	h := api.NewHandler(s, tr, agg, deb, nil, &webpush.Options{}, trackCfg.UserID)
	router := api.NewRouter(h, &config.ServerConfig{RateLimitPerSec: 1000000, CacheTTLSeconds: 1})

	post := func(path string, body gin.H) *httptest.ResponseRecorder {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	ctx := context.Background()
	enterAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// 3. Morning arrival. A duplicate report lands inside the debounce
	// window; only one confirmed transition may come out the other end.
	w := post("/api/fence-events", gin.H{
		"fenceId": 1, "transition": "enter", "occurredAt": enterAt, "accuracyMeters": 12,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = post("/api/fence-events", gin.H{
		"fenceId": 1, "transition": "enter", "occurredAt": enterAt.Add(time.Second), "accuracyMeters": 12,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		act, err := s.GetActiveTracking(ctx, trackCfg.UserID)
		return err == nil && act != nil
	}, 2*time.Second, 10*time.Millisecond)

	act, err := s.GetActiveTracking(ctx, trackCfg.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), act.LocationID)
	assert.Equal(t, model.SourceAutomatic, act.Source)

	// 4. The session survives a restart while still inside the fence.
	w = post("/api/fence-events/snapshot", gin.H{"insideFenceIds": []int64{1}})
	require.Equal(t, http.StatusNoContent, w.Code)
	act, err = s.GetActiveTracking(ctx, trackCfg.UserID)
	require.NoError(t, err)
	require.NotNil(t, act)

	// 5. Evening departure.
	w = post("/api/fence-events", gin.H{
		"fenceId": 1, "transition": "exit", "occurredAt": enterAt.Add(8 * time.Hour), "accuracyMeters": 12,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		act, err := s.GetActiveTracking(ctx, trackCfg.UserID)
		return err == nil && act == nil
	}, 2*time.Second, 10*time.Millisecond)

	// 6. The ledger has one entry for the day. The confirmed exit carried
	// the occurred-at of the departure, so after the ten minute adjustment
	// 7h50m remain.
	entry, err := s.EntryByKey(ctx, trackCfg.UserID, "2026-03-10", 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.EntrySourceGps, entry.Source)
	assert.True(t, entry.Dirty, "a fresh entry must be queued for sync")
	assert.Equal(t, 470, entry.TotalMinutes)
	assert.Equal(t, "09:00", entry.FirstEntry)
	assert.Equal(t, "16:50", entry.LastExit)
}

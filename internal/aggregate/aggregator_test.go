package aggregate

import (
	"context"
	"fmt"
	"testing"
	"time"

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

func newTestAggregator(t *testing.T) (*Aggregator, store.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	s := store.NewGormStore(gormDB)
	return New(s, testUser, time.UTC), s
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04", value)
	require.NoError(t, err)
	return parsed
}

func TestFoldInterval_SingleDay(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	enter := day(t, "2026-03-10 08:58")
	exit := day(t, "2026-03-10 17:03")
	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A", enter, exit, 30, false))

	e, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 485, e.TotalMinutes)
	assert.Equal(t, 30, e.BreakMinutes)
	assert.Equal(t, "08:58", e.FirstEntry)
	assert.Equal(t, "17:03", e.LastExit)
	assert.Equal(t, model.EntrySourceGps, e.Source)
	assert.True(t, e.Dirty)
	assert.False(t, e.NeedsReview)
}

// An overnight session produces one entry per calendar day; the day boundary
// sits at 23:59 so the crossing neither double-counts nor loses a piece.
func TestFoldInterval_MidnightSplit(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	// Entry at 22:00, departure detected at 01:30, ten minutes of exit
	// detection grace already removed by the tracker: real exit 01:20.
	enter := day(t, "2026-03-10 22:00")
	exit := day(t, "2026-03-11 01:20")
	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A", enter, exit, 0, false))

	day1, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
	require.NoError(t, err)
	require.NotNil(t, day1)
	assert.Equal(t, 119, day1.TotalMinutes)
	assert.Equal(t, "22:00", day1.FirstEntry)
	assert.Equal(t, "23:59", day1.LastExit)

	day2, err := s.EntryByKey(ctx, testUser, "2026-03-11", 1)
	require.NoError(t, err)
	require.NotNil(t, day2)
	assert.Equal(t, 80, day2.TotalMinutes)
	assert.Equal(t, "00:00", day2.FirstEntry)
	assert.Equal(t, "01:20", day2.LastExit)
}

func TestFoldInterval_MultipleMidnights(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	enter := day(t, "2026-03-10 23:00")
	exit := day(t, "2026-03-12 01:00")
	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A", enter, exit, 0, false))

	totals := 0
	for _, date := range []string{"2026-03-10", "2026-03-11", "2026-03-12"} {
		e, err := s.EntryByKey(ctx, testUser, date, 1)
		require.NoError(t, err)
		require.NotNil(t, e, date)
		totals += e.TotalMinutes
	}
	// 59 + 1439 + 60, one boundary minute dropped per split.
	assert.Equal(t, 1558, totals)
}

func TestFoldInterval_MergesSameDay(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A",
		day(t, "2026-03-10 08:00"), day(t, "2026-03-10 12:00"), 0, false))
	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A",
		day(t, "2026-03-10 13:00"), day(t, "2026-03-10 17:30"), 15, false))

	e, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 240+270, e.TotalMinutes)
	assert.Equal(t, 15, e.BreakMinutes)
	assert.Equal(t, "08:00", e.FirstEntry)
	assert.Equal(t, "17:30", e.LastExit)
}

func TestFoldInterval_SeparateLocations(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A",
		day(t, "2026-03-10 08:00"), day(t, "2026-03-10 12:00"), 0, false))
	require.NoError(t, agg.FoldInterval(ctx, 2, "Site B",
		day(t, "2026-03-10 13:00"), day(t, "2026-03-10 17:00"), 0, false))

	a, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
	require.NoError(t, err)
	require.NotNil(t, a)
	b, err := s.EntryByKey(ctx, testUser, "2026-03-10", 2)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.NotEqual(t, a.ID, b.ID)
}

// A user-authored entry is authoritative: the fold is suppressed, the hours
// stay untouched and the conflict is flagged for review.
func TestFoldInterval_ManualPrecedence(t *testing.T) {
	for _, source := range []model.EntrySource{model.EntrySourceManual, model.EntrySourceEdited} {
		t.Run(string(source), func(t *testing.T) {
			agg, s := newTestAggregator(t)
			ctx := context.Background()

			entry, err := agg.Upsert(ctx, UpsertParams{
				Date:         "2026-03-10",
				LocationID:   1,
				LocationName: "Site A",
				TotalMinutes: 480,
				BreakMinutes: 30,
			})
			require.NoError(t, err)
			if source == model.EntrySourceEdited {
				entry, err = agg.Upsert(ctx, UpsertParams{
					ID:           entry.ID,
					Date:         "2026-03-10",
					LocationID:   1,
					TotalMinutes: 480,
					BreakMinutes: 30,
				})
				require.NoError(t, err)
				require.Equal(t, model.EntrySourceEdited, entry.Source)
			}

			require.NoError(t, agg.FoldInterval(ctx, 1, "Site A",
				day(t, "2026-03-10 08:00"), day(t, "2026-03-10 12:00"), 0, false))

			got, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 480, got.TotalMinutes, "folds must never change user-authored hours")
			assert.Equal(t, source, got.Source)
			assert.True(t, got.NeedsReview, "the suppressed fold must be surfaced")
		})
	}
}

func TestUpsert_Validation(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params UpsertParams
	}{
		{"bad date", UpsertParams{Date: "10.03.2026", TotalMinutes: 60}},
		{"break exceeds total", UpsertParams{Date: "2026-03-10", TotalMinutes: 30, BreakMinutes: 60}},
		{"negative break", UpsertParams{Date: "2026-03-10", TotalMinutes: 30, BreakMinutes: -1}},
		{"bad clock time", UpsertParams{Date: "2026-03-10", TotalMinutes: 30, FirstEntry: "8 am"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := agg.Upsert(ctx, tc.params)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestUpsert_EditSwitchesSource(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A",
		day(t, "2026-03-10 08:00"), day(t, "2026-03-10 12:00"), 0, false))
	gps, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
	require.NoError(t, err)
	require.NotNil(t, gps)

	edited, err := agg.Upsert(ctx, UpsertParams{
		ID:           gps.ID,
		Date:         "2026-03-10",
		LocationID:   1,
		TotalMinutes: 300,
		BreakMinutes: 20,
		Notes:        "corrected",
	})
	require.NoError(t, err)
	assert.Equal(t, model.EntrySourceEdited, edited.Source)
	assert.Equal(t, 300, edited.TotalMinutes)
	assert.True(t, edited.Dirty)
}

func TestRecordAbsence(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	entry, err := agg.RecordAbsence(ctx, "2026-03-10", "sick leave")
	require.NoError(t, err)
	assert.Equal(t, model.EntrySourceAbsence, entry.Source)
	assert.Zero(t, entry.TotalMinutes)
	assert.Equal(t, "sick leave", entry.Notes)

	_, err = agg.RecordAbsence(ctx, "2026-03-10", "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestDelete_SoftDeletesAndHidesEntry(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	entry, err := agg.Upsert(ctx, UpsertParams{Date: "2026-03-10", LocationID: 1, TotalMinutes: 60})
	require.NoError(t, err)

	require.NoError(t, agg.Delete(ctx, entry.ID))

	// The tombstone is still in the table, awaiting sync confirmation.
	raw, err := s.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, raw.DeletedAt)
	assert.True(t, raw.Dirty)

	// But hidden from period listings.
	entries, err := agg.EntriesByPeriod(ctx, day(t, "2026-03-10 00:00"), day(t, "2026-03-10 23:00"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting twice is fine.
	require.NoError(t, agg.Delete(ctx, entry.ID))
}

func TestVerify(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	entry, err := agg.Upsert(ctx, UpsertParams{Date: "2026-03-10", LocationID: 1, TotalMinutes: 60})
	require.NoError(t, err)
	require.False(t, entry.Verified)

	verified, err := agg.Verify(ctx, entry.ID, true)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
}

func TestFoldInterval_EmptyIntervalIgnored(t *testing.T) {
	agg, s := newTestAggregator(t)
	ctx := context.Background()

	at := day(t, "2026-03-10 08:00")
	require.NoError(t, agg.FoldInterval(ctx, 1, "Site A", at, at, 0, false))

	e, err := s.EntryByKey(ctx, testUser, "2026-03-10", 1)
	require.NoError(t, err)
	assert.Nil(t, e)
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-activity/internal/activity"
	"ms-activity/internal/database"
	"ms-activity/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })
	return New(bunDB)
}

func newEvent(id, creator, category string, status models.EventStatus, at time.Time) *models.Event {
	return &models.Event{
		ID:        id,
		CreatorID: creator,
		Title:     "Event " + id,
		Category:  category,
		Capacity:  3,
		Status:    status,
		Requests:  []models.Request{},
		RatedBy:   []string{},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestCreateAndGetEvent(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	ev := newEvent("e1", "host", "sports", models.EventLive, now)
	ev.Version = 7
	require.NoError(t, d.CreateEvent(ctx, ev))
	assert.Equal(t, int64(0), ev.Version, "new events start at version 0")

	got, err := d.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "host", got.CreatorID)
	assert.Equal(t, models.EventLive, got.Status)
	assert.Empty(t, got.Requests)

	_, err = d.GetEvent(ctx, "nope")
	assert.ErrorIs(t, err, activity.ErrEventNotFound)
}

func TestUpdateEvent_CompareAndSwap(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, d.CreateEvent(ctx, newEvent("e1", "host", "sports", models.EventLive, now)))

	first, err := d.GetEvent(ctx, "e1")
	require.NoError(t, err)
	stale, err := d.GetEvent(ctx, "e1")
	require.NoError(t, err)

	first.Requests = append(first.Requests, models.Request{UserID: "u2", Status: models.RequestPending, RequestedAt: now})
	require.NoError(t, d.UpdateEvent(ctx, first, 0))
	assert.Equal(t, int64(1), first.Version)

	stale.Requests = append(stale.Requests, models.Request{UserID: "u3", Status: models.RequestPending, RequestedAt: now})
	err = d.UpdateEvent(ctx, stale, 0)
	assert.ErrorIs(t, err, activity.ErrVersionConflict)
	assert.Equal(t, int64(0), stale.Version, "version restored on conflict")

	got, err := d.GetEvent(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, got.Requests, 1)
	assert.Equal(t, "u2", got.Requests[0].UserID)
	assert.Equal(t, int64(1), got.Version)
}

func TestListEventsAndCountByCategory(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, d.CreateEvent(ctx, newEvent("e1", "alice", "sports", models.EventLive, base)))
	require.NoError(t, d.CreateEvent(ctx, newEvent("e2", "alice", "sports", models.EventFull, base.Add(time.Minute))))
	require.NoError(t, d.CreateEvent(ctx, newEvent("e3", "bob", "music", models.EventLive, base.Add(2*time.Minute))))
	require.NoError(t, d.CreateEvent(ctx, newEvent("e4", "bob", "music", models.EventCancelled, base.Add(3*time.Minute))))

	all, err := d.ListEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "e4", all[0].ID, "newest first")

	sports, err := d.ListEvents(ctx, models.EventFilter{Category: "sports", Status: models.EventFull})
	require.NoError(t, err)
	require.Len(t, sports, 1)
	assert.Equal(t, "e2", sports[0].ID)

	bobs, err := d.ListEvents(ctx, models.EventFilter{CreatorID: "bob", Limit: 1})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "e4", bobs[0].ID)

	counts, err := d.CountByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sports": 2, "music": 1}, counts)
}

func TestGetUser_DefaultsToZeroRating(t *testing.T) {
	d := setupTestDB(t)
	u, err := d.GetUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", u.ID)
	assert.Zero(t, u.TotalRatings)
	assert.Zero(t, u.AverageRating)
	assert.Zero(t, u.Version)
}

func TestApplyRating_CommitsBothOrNeither(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, d.CreateEvent(ctx, newEvent("e1", "host", "sports", models.EventCompleted, now)))

	ev, err := d.GetEvent(ctx, "e1")
	require.NoError(t, err)
	user, err := d.GetUser(ctx, "host")
	require.NoError(t, err)

	ev.RatedBy = append(ev.RatedBy, "u2")
	user.AverageRating, user.TotalRatings, user.UpdatedAt = 4, 1, now
	require.NoError(t, d.ApplyRating(ctx, ev, 0, user, 0))
	assert.Equal(t, int64(1), user.Version)
	assert.Equal(t, int64(1), ev.Version)

	// stale user version: nothing commits, including the event
	ev.RatedBy = append(ev.RatedBy, "u3")
	user.AverageRating, user.TotalRatings = 3.5, 2
	err = d.ApplyRating(ctx, ev, 1, user, 0)
	assert.ErrorIs(t, err, activity.ErrVersionConflict)
	assert.Equal(t, int64(0), user.Version)
	assert.Equal(t, int64(1), ev.Version)

	stored, err := d.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, stored.RatedBy)

	storedUser, err := d.GetUser(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, 4.0, storedUser.AverageRating)
	assert.Equal(t, 1, storedUser.TotalRatings)
	assert.Equal(t, int64(1), storedUser.Version)
}

func TestUpdateEvent_PostgresZeroRowsIsConflict(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqldb.Close()
	d := New(bun.NewDB(sqldb, pgdialect.New()))

	mock.ExpectExec(`UPDATE "events" .*version = 4`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ev := newEvent("e1", "host", "sports", models.EventLive, time.Now().UTC())
	err = d.UpdateEvent(context.Background(), ev, 4)
	assert.ErrorIs(t, err, activity.ErrVersionConflict)
	assert.Equal(t, int64(4), ev.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEvent_PostgresDriverErrorPassesThrough(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqldb.Close()
	d := New(bun.NewDB(sqldb, pgdialect.New()))

	mock.ExpectExec(`UPDATE "events"`).WillReturnError(sql.ErrConnDone)

	ev := newEvent("e1", "host", "sports", models.EventLive, time.Now().UTC())
	err = d.UpdateEvent(context.Background(), ev, 0)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, activity.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package activity_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-activity/internal/activity"
	activitydb "ms-activity/internal/activity/db"
	"ms-activity/internal/database"
	"ms-activity/internal/logger"
	"ms-activity/internal/models"
)

// recorder is a synchronous Dispatcher that keeps every effect.
type recorder struct {
	mu      sync.Mutex
	effects []models.Effect
}

func (r *recorder) Dispatch(effects ...models.Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, effects...)
}

func (r *recorder) byType(typ string) []models.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Effect
	for _, e := range r.effects {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = nil
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

type fixture struct {
	svc   *activity.Service
	store *activitydb.DB
	bun   *bun.DB
	rec   *recorder
	locks *activity.KeyedLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bunDB := setupTestDB(t)
	store := activitydb.New(bunDB)
	rec := &recorder{}
	locks := activity.NewKeyedLocker(5 * time.Second)
	return &fixture{
		svc:   activity.NewService(store, locks, rec, logger.NewNop(), activity.DefaultMaxRetries),
		store: store,
		bun:   bunDB,
		rec:   rec,
		locks: locks,
	}
}

func (f *fixture) createEvent(t *testing.T, host string, capacity int, paid bool) *models.Event {
	t.Helper()
	in := models.CreateEventInput{Title: "Sunday football", Category: "sports", Capacity: capacity}
	if paid {
		in.IsPaid = true
		in.Amount = 12.5
	}
	view, err := f.svc.CreateEvent(context.Background(), host, in)
	require.NoError(t, err)
	return view.Event
}

func (f *fixture) reload(t *testing.T, id string) *models.Event {
	t.Helper()
	ev, err := f.store.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return ev
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-activity/internal/activity"
	"ms-activity/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// ---------------- EVENTS ----------------

// CreateEvent → insert a new event at version 0
func (d *DB) CreateEvent(ctx context.Context, ev *models.Event) error {
	ev.Version = 0
	_, err := d.Bun.NewInsert().Model(ev).Exec(ctx)
	return err
}

// GetEvent → fetch one event with its embedded ledger
func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := d.Bun.NewSelect().
		Model(&ev).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", activity.ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEvents → newest first, filtered by category, status and host
func (d *DB) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	events := []models.Event{}
	q := d.Bun.NewSelect().Model(&events).Order("created_at DESC")
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CreatorID != "" {
		q = q.Where("creator_id = ?", filter.CreatorID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByCategory → live and full events per category
func (d *DB) CountByCategory(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Category string `bun:"category"`
		Count    int    `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Event)(nil)).
		Column("category").
		ColumnExpr("COUNT(*) AS count").
		Where("status IN (?)", bun.In([]string{string(models.EventLive), string(models.EventFull)})).
		Group("category").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Category] = r.Count
	}
	return counts, nil
}

// UpdateEvent → compare-and-swap on version
func (d *DB) UpdateEvent(ctx context.Context, ev *models.Event, expectedVersion int64) error {
	return updateEvent(ctx, d.Bun, ev, expectedVersion)
}

func updateEvent(ctx context.Context, db bun.IDB, ev *models.Event, expectedVersion int64) error {
	ev.Version = expectedVersion + 1
	res, err := db.NewUpdate().
		Model(ev).
		Column("status", "cancel_reason", "requests", "rated_by", "version", "updated_at").
		Where("id = ?", ev.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		ev.Version = expectedVersion
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		ev.Version = expectedVersion
		if err != nil {
			return err
		}
		return activity.ErrVersionConflict
	}
	return nil
}

// ---------------- USERS ----------------

// GetUser → rating aggregate, zero valued when the user was never rated
func (d *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.User{ID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ApplyRating → user aggregate and event ratedBy in one transaction
func (d *DB) ApplyRating(ctx context.Context, ev *models.Event, eventVersion int64, user *models.User, userVersion int64) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if userVersion == 0 {
			now := time.Now().UTC()
			row := &models.User{ID: user.ID, CreatedAt: now, UpdatedAt: now}
			if _, err := tx.NewInsert().Model(row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
		}

		user.Version = userVersion + 1
		res, err := tx.NewUpdate().
			Model(user).
			Column("average_rating", "total_ratings", "version", "updated_at").
			Where("id = ?", user.ID).
			Where("version = ?", userVersion).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			if err != nil {
				return err
			}
			return activity.ErrVersionConflict
		}

		return updateEvent(ctx, tx, ev, eventVersion)
	})
	if err != nil {
		user.Version = userVersion
		ev.Version = eventVersion
	}
	return err
}

package notify

import (
	"context"
	"errors"

	"github.com/uptrace/bun"

	"ms-activity/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

const defaultListLimit = 50

// Store persists notifications in the notifications table.
type Store struct {
	Bun *bun.DB
}

func NewStore(b *bun.DB) *Store {
	return &Store{Bun: b}
}

func (s *Store) Create(ctx context.Context, n *models.Notification) error {
	_, err := s.Bun.NewInsert().Model(n).Exec(ctx)
	return err
}

// ListForUser → newest first, optionally unread only
func (s *Store) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	out := []models.Notification{}
	q := s.Bun.NewSelect().
		Model(&out).
		Where("recipient_id = ?", userID).
		Order("created_at DESC").
		Limit(limit)
	if unreadOnly {
		q = q.Where("? = ?", bun.Ident("read"), false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead flags one of userID's notifications as read.
func (s *Store) MarkRead(ctx context.Context, id, userID string) error {
	res, err := s.Bun.NewUpdate().
		Model((*models.Notification)(nil)).
		Set("? = ?", bun.Ident("read"), true).
		Where("id = ?", id).
		Where("recipient_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User holds the aggregate rating fields. Profile data lives with the auth
// collaborator; only AverageRating and TotalRatings are written here, and only
// by the rating workflow.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID            string    `bun:"id,pk" json:"id"`
	AverageRating float64   `bun:"average_rating,notnull" json:"average_rating"`
	TotalRatings  int       `bun:"total_ratings,notnull" json:"total_ratings"`
	Version       int64     `bun:"version,notnull" json:"-"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

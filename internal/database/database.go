package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-activity/internal/config"
	"ms-activity/internal/logger"
	"ms-activity/internal/models"
)

const sqlitePrefix = "sqlite:"

// IsSQLite reports whether dsn selects the embedded sqlite driver.
func IsSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, sqlitePrefix)
}

// Open connects to postgres (lib/pq) or sqlite and pings with retries.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)
	retries := cfg.ConnRetries
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect (attempt %d/%d)", i+1, retries))
		sqldb, err = openSQL(cfg)
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect: %v", err))
		if i < retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect after %d attempts: %w", retries, err)
	}

	if IsSQLite(cfg.DSN) {
		log.Info("DATABASE", "✅ sqlite connection successful")
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func openSQL(cfg config.DatabaseConfig) (*sql.DB, error) {
	if IsSQLite(cfg.DSN) {
		sqldb, err := sql.Open(sqliteshim.ShimName, strings.TrimPrefix(cfg.DSN, sqlitePrefix))
		if err != nil {
			return nil, err
		}
		// a single connection keeps in-memory databases shared
		sqldb.SetMaxOpenConns(1)
		return sqldb, nil
	}
	return sql.Open("postgres", cfg.DSN)
}

// CreateSchema creates the tables from the models. Used for sqlite and tests;
// postgres goes through the SQL migrations.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []any{
		(*models.Event)(nil),
		(*models.User)(nil),
		(*models.Notification)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*models.Notification)(nil)).
		Index("notifications_recipient_idx").
		Column("recipient_id", "created_at").
		IfNotExists().
		Exec(ctx)
	return err
}

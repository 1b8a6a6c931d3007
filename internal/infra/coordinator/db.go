// Package coordinator implements the Instance Coordinator: cluster
// membership via heartbeating Instance Records, compare-and-set
// Session Ownership, stale-instance cleanup, and load-balance
// placement policies — grounded on the teacher's bun/pgdriver
// repository wiring (internal/infra/database/connection.go,
// internal/infra/database/session_repository.go).
package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"waconnect/pkg/logger"
)

// OpenDB opens the Postgres connection bun uses for both the
// Instance Coordinator and the Connection State Manager (they share
// one database, distinguished by table), installing the teacher's
// BunQueryHook for query logging.
func OpenDB(dsn string, log logger.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(logger.NewBunQueryHook(log))

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the Coordinator's own tables if they do not already
// exist. The Connection State Manager owns and migrates its own
// projections table (internal/infra/statemgr).
func Migrate(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*instanceRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create instances table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*ownershipRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create ownership table: %w", err)
	}
	return nil
}

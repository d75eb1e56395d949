package storage

import (
	"context"
	"database/sql"
	"fmt"

	// register the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id         TEXT PRIMARY KEY,
		document   TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS games_updated_at ON games (updated_at)`,
	`CREATE TABLE IF NOT EXISTS players (
		token    TEXT PRIMARY KEY,
		document TEXT NOT NULL
	)`,
}

// NewSQLiteStorage opens the database file at path and creates the tables.
func NewSQLiteStorage(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	// a single writer avoids SQLITE_BUSY between pooled connections.
	conn.SetMaxOpenConns(1)

	if err = conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}

	if err = initSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func initSchema(ctx context.Context, conn *sql.DB) error {
	for _, query := range schema {
		if _, err := conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("can't create table: %w", err)
		}
	}

	return nil
}

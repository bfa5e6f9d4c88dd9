// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-control-plane/internal/events"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Schema creates the audit table. The table name is substituted for %s.
const Schema = `
CREATE TABLE IF NOT EXISTS %s (
	id         UUID PRIMARY KEY,
	crawl_id   TEXT NOT NULL,
	stage      TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	count      INTEGER NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %s_crawl_ts_idx ON %s (crawl_id, ts);`

// EventStoreConfig controls the Postgres connection pool used for lifecycle events.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// EventStore appends crawl lifecycle events to an audit table.
type EventStore struct {
	pool  execCloser
	table string
}

// NewEventStore creates a Postgres-backed EventStore using the provided config.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventStore{pool: pool, table: table}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(pool execCloser, table string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "crawl_events"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Migrate creates the audit table when it is missing.
func (s *EventStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(Schema, s.table, s.table, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AppendEvents inserts the batch in one statement. Redelivered events are
// ignored by id.
func (s *EventStore) AppendEvents(ctx context.Context, batch []events.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("event store is not configured")
	}
	if len(batch) == 0 {
		return nil
	}
	const cols = 6
	rows := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*cols)
	for i, evt := range batch {
		base := i * cols
		rows = append(rows, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, evt.ID, evt.CrawlID, string(evt.Stage), evt.TS, evt.Count, evt.Note)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, crawl_id, stage, ts, count, note) VALUES %s ON CONFLICT (id) DO NOTHING",
		s.table,
		strings.Join(rows, ","),
	)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lifecycle events: %w", err)
	}
	return nil
}

// Package postgres records one row per terminal scrape attempt.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// DefaultTable holds the attempt rows unless configured otherwise.
const DefaultTable = "scrape_attempts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for attempt rows.
type LedgerConfig struct {
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

// Ledger implements scrape.Ledger.
type Ledger struct {
	pool  execCloser
	table string
}

// NewLedger connects a pool using cfg.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
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
	return &Ledger{pool: pool, table: table}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool.
func NewLedgerWithPool(pool execCloser, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the attempt table when it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT        NOT NULL,
	source        TEXT        NOT NULL,
	attempt_key   TEXT        NOT NULL,
	region_id     TEXT        NOT NULL,
	source_url    TEXT        NOT NULL,
	outcome       TEXT        NOT NULL,
	result_count  INTEGER     NOT NULL,
	status_code   INTEGER     NOT NULL,
	error_text    TEXT        NOT NULL,
	pool_tag      TEXT        NOT NULL,
	profile       TEXT        NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_key_idx ON %[1]s (attempt_key)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s schema: %w", l.table, err)
	}
	return nil
}

// RecordAttempt inserts one attempt row.
func (l *Ledger) RecordAttempt(ctx context.Context, rec scrape.AttemptRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("attempt ledger is not configured")
	}
	if rec.Key == "" {
		return fmt.Errorf("attempt key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	source,
	attempt_key,
	region_id,
	source_url,
	outcome,
	result_count,
	status_code,
	error_text,
	pool_tag,
	profile,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, l.table)

	args := []any{
		rec.RunID,
		rec.Source,
		rec.Key.String(),
		rec.RegionID,
		rec.SourceURL,
		rec.Outcome.String(),
		rec.ResultCount,
		rec.StatusCode,
		rec.ErrorText,
		rec.PoolTag,
		rec.Profile,
		rec.FinishedAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Package postgres persists extracted records and job events to Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable       = "job_records"
	defaultEventsTable = "job_events"
)

var eventColumns = []string{
	"job_id", "stage", "ts", "url", "target_index", "target_count", "outcome", "attempts", "duration_ms", "note",
}

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	EventsTable     string        `mapstructure:"events_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// CreateTable runs CREATE TABLE IF NOT EXISTS on startup.
	CreateTable bool `mapstructure:"create_table"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Close()
}

// RecordStore writes one row per extracted record and one per job event.
type RecordStore struct {
	pool   pool
	table  string
	events string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table, defaultTable)
	if err != nil {
		return nil, err
	}
	events, err := tableName(cfg.EventsTable, defaultEventsTable)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &RecordStore{pool: p, table: table, events: events}
	if cfg.CreateTable {
		if err := store.EnsureTable(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: name, events: defaultEventsTable}, nil
}

func tableName(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the record and event tables when they do not exist.
func (s *RecordStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT NOT NULL,
	record_index INTEGER NOT NULL,
	source_url TEXT NOT NULL,
	role_page_url TEXT NOT NULL,
	founder_name TEXT NOT NULL DEFAULT '',
	founder_title TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	extraction_timestamp TIMESTAMPTZ NOT NULL,
	partial BOOLEAN NOT NULL DEFAULT FALSE,
	warnings JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (job_id, record_index)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	events := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	target_index INTEGER NOT NULL DEFAULT 0,
	target_count INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT ''
)`, s.events)
	if _, err := s.pool.Exec(ctx, events); err != nil {
		return fmt.Errorf("create table %s: %w", s.events, err)
	}
	return nil
}

// AppendEvents bulk-copies progress events into the events table.
func (s *RecordStore) AppendEvents(ctx context.Context, events []progress.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, evt := range events {
		rows = append(rows, []any{
			evt.JobID,
			string(evt.Stage),
			evt.TS,
			evt.URL,
			evt.Index,
			evt.Count,
			evt.Outcome,
			evt.Attempts,
			evt.Dur.Milliseconds(),
			evt.Note,
		})
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.events}, eventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy events: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy events: wrote %d of %d rows", n, len(rows))
	}
	return nil
}

// StoreRecords inserts every record of job in a single transaction.
// Rerunning for the same job leaves existing rows untouched.
func (s *RecordStore) StoreRecords(ctx context.Context, job crawler.Job) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if len(job.Records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	record_index,
	source_url,
	role_page_url,
	founder_name,
	founder_title,
	linkedin_url,
	extraction_timestamp,
	partial,
	warnings
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (job_id, record_index) DO NOTHING`, s.table)

	for _, rec := range job.Records {
		warnings, marshalErr := json.Marshal(normalizeWarnings(rec.Warnings))
		if marshalErr != nil {
			return fmt.Errorf("marshal warnings: %w", marshalErr)
		}
		if _, err = tx.Exec(ctx, query,
			job.ID,
			rec.Index,
			job.SeedURL,
			rec.RoleURL,
			rec.ContactName,
			rec.ContactTitle,
			rec.ProfileURL,
			rec.ExtractedAt,
			rec.Partial(),
			warnings,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", rec.Index, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

func normalizeWarnings(w []crawler.ExtractionWarning) []crawler.ExtractionWarning {
	if len(w) == 0 {
		return []crawler.ExtractionWarning{}
	}
	return w
}

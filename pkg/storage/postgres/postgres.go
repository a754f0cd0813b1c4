// Package postgres implements storage.Store on PostgreSQL through database/sql
// and lib/pq. Optimistic versions are enforced with conditional UPDATEs, so
// transactions run at READ COMMITTED.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ledger/pkg/logging"
	"ledger/pkg/storage"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	// DSN takes precedence over the discrete fields when set
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectTimeout bounds the initial ping and schema setup
	ConnectTimeout time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "ledger",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store is a storage.Store backed by PostgreSQL
type Store struct {
	db     *sql.DB
	closed atomic.Bool
	logger *logging.Logger
}

// New opens a connection pool, pings the server and creates missing tables.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := NewWithDB(db)
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	s.logger.Info("postgres store ready",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return s, nil
}

// NewWithDB wraps an existing pool. The schema is assumed to exist.
func NewWithDB(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: logging.Global().Named("postgres"),
	}
}

// DB exposes the pool for components that share it, such as the owner directory
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx implements storage.Store
func (s *Store) WithinTx(ctx context.Context, fn storage.TxFunc) (err error) {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

// Ping implements storage.Store
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close implements storage.Store
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initTables(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS owners (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		number TEXT NOT NULL,
		type TEXT NOT NULL,
		balance NUMERIC(15,2) NOT NULL,
		status TEXT NOT NULL,
		min_balance NUMERIC(15,2),
		auto_transfer BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		closed_at TIMESTAMP WITH TIME ZONE,
		CONSTRAINT accounts_number_key UNIQUE (number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_owner_id ON accounts(owner_id)`,
	`CREATE TABLE IF NOT EXISTS entries (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		transfer_id UUID,
		kind TEXT NOT NULL,
		amount NUMERIC(15,2) NOT NULL,
		balance_after NUMERIC(15,2) NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_account_id ON entries(account_id, seq DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS entries_idempotency_key_key ON entries(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		source_number TEXT NOT NULL,
		destination_number TEXT NOT NULL,
		amount NUMERIC(15,2) NOT NULL,
		day_of_month INT NOT NULL,
		run_hour INT NOT NULL,
		run_minute INT NOT NULL,
		time_zone TEXT NOT NULL,
		next_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_run_at TIMESTAMP WITH TIME ZONE,
		active BOOLEAN NOT NULL,
		fail_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(next_run_at, id) WHERE active`,
}

// mapError translates driver errors into storage conditions
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, pqErr.Constraint)
		case "serialization_failure", "deadlock_detected":
			return fmt.Errorf("%w: %s", storage.ErrVersionConflict, pqErr.Message)
		case "query_canceled":
			// statement_timeout shares the code; only client cancels map here
			if strings.Contains(pqErr.Message, "user request") {
				return fmt.Errorf("%w: %s", context.Canceled, pqErr.Message)
			}
		}
	}
	return err
}

// limitArg binds a LIMIT parameter. NULL is LIMIT ALL, matching the
// repository contract for limit <= 0.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// queryer is satisfied by *sql.Tx and *sql.DB
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	q queryer
}

func (t *tx) Accounts() storage.AccountRepository   { return accountRepo{t.q} }
func (t *tx) Entries() storage.EntryRepository      { return entryRepo{t.q} }
func (t *tx) Schedules() storage.ScheduleRepository { return scheduleRepo{t.q} }

// versionMiss distinguishes a stale version from a missing row after a
// conditional UPDATE touched nothing.
func versionMiss(ctx context.Context, q queryer, table string, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = $1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return mapError(err)
	}
	return storage.ErrVersionConflict
}

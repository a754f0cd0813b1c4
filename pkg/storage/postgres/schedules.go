package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ledger/pkg/schedule"
)

const scheduleColumns = `id, owner_id, source_number, destination_number, amount,
	day_of_month, run_hour, run_minute, time_zone, next_run_at, last_run_at,
	active, fail_count, max_retries, version, created_at, updated_at`

type scheduleRepo struct {
	q queryer
}

func scanSchedule(row rowScanner) (*schedule.Schedule, error) {
	var (
		s       schedule.Schedule
		lastRun sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.SourceAccountNumber, &s.DestinationAccountNumber, &s.Amount,
		&s.DayOfMonth, &s.RunTime.Hour, &s.RunTime.Minute, &s.TimeZone, &s.NextRunAt, &lastRun,
		&s.Active, &s.FailCount, &s.MaxRetries, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		s.LastRunAt = &t
	}
	return &s, nil
}

func (r scheduleRepo) Insert(ctx context.Context, s *schedule.Schedule) error {
	query := `
		INSERT INTO schedules (owner_id, source_number, destination_number, amount,
			day_of_month, run_hour, run_minute, time_zone, next_run_at, last_run_at,
			active, fail_count, max_retries, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, $15)
		RETURNING id
	`
	err := r.q.QueryRowContext(ctx, query,
		s.OwnerID, s.SourceAccountNumber, s.DestinationAccountNumber, s.Amount,
		s.DayOfMonth, s.RunTime.Hour, s.RunTime.Minute, s.TimeZone, s.NextRunAt, s.LastRunAt,
		s.Active, s.FailCount, s.MaxRetries, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", mapError(err))
	}
	s.Version = 0
	return nil
}

func (r scheduleRepo) Get(ctx context.Context, id int64) (*schedule.Schedule, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	return scanSchedule(row)
}

// Due lists due schedules without waiting on rows another transaction is
// updating. The row locks end with the enclosing transaction; instances are
// kept apart by the executor's lock and its per-occurrence stale check.
func (r scheduleRepo) Due(ctx context.Context, now time.Time, limit int) ([]*schedule.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE active AND next_run_at <= $1
		ORDER BY next_run_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.q.QueryContext(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", mapError(err))
	}
	defer rows.Close()

	var due []*schedule.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		due = append(due, s)
	}

	return due, rows.Err()
}

func (r scheduleRepo) Update(ctx context.Context, s *schedule.Schedule) error {
	query := `
		UPDATE schedules
		SET next_run_at = $3, last_run_at = $4, active = $5, fail_count = $6,
			updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := r.q.ExecContext(ctx, query,
		s.ID, s.Version, s.NextRunAt, s.LastRunAt, s.Active, s.FailCount, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n == 0 {
		return versionMiss(ctx, r.q, "schedules", s.ID)
	}
	s.Version++
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ledger/pkg/account"

	"github.com/google/uuid"
)

type entryRepo struct {
	q queryer
}

func (r entryRepo) Append(ctx context.Context, e *account.Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var key sql.NullString
	if e.IdempotencyKey != "" {
		key = sql.NullString{String: e.IdempotencyKey, Valid: true}
	}
	var transferID uuid.NullUUID
	if e.TransferID != nil {
		transferID = uuid.NullUUID{UUID: *e.TransferID, Valid: true}
	}

	query := `
		INSERT INTO entries (id, account_id, transfer_id, kind, amount, balance_after,
			memo, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.AccountID, transferID, e.Kind, e.Amount, e.BalanceAfter,
		e.Memo, key, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append entry: %w", mapError(err))
	}
	return nil
}

func (r entryRepo) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM entries WHERE idempotency_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", mapError(err))
	}
	return exists, nil
}

func (r entryRepo) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*account.Entry, error) {
	query := `
		SELECT id, account_id, transfer_id, kind, amount, balance_after, memo,
			idempotency_key, created_at
		FROM entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, accountID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", mapError(err))
	}
	defer rows.Close()

	var entries []*account.Entry
	for rows.Next() {
		var (
			e          account.Entry
			transferID uuid.NullUUID
			key        sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.AccountID, &transferID, &e.Kind, &e.Amount, &e.BalanceAfter,
			&e.Memo, &key, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if transferID.Valid {
			id := transferID.UUID
			e.TransferID = &id
		}
		e.IdempotencyKey = key.String
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ledger/pkg/account"
	"ledger/pkg/money"
)

const accountColumns = `id, owner_id, number, type, balance, status, min_balance,
	auto_transfer, version, created_at, updated_at, closed_at`

type accountRepo struct {
	q queryer
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		a        account.Account
		minBal   sql.Null[money.Money]
		closedAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Number, &a.Type, &a.Balance, &a.Status, &minBal,
		&a.AutoTransfer, &a.Version, &a.CreatedAt, &a.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if minBal.Valid {
		v := minBal.V
		a.MinBalance = &v
	}
	if closedAt.Valid {
		t := closedAt.Time
		a.ClosedAt = &t
	}
	return &a, nil
}

func nullableMoney(m *money.Money) any {
	if m == nil {
		return nil
	}
	return *m
}

func (r accountRepo) Get(ctx context.Context, id int64) (*account.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r accountRepo) GetByNumber(ctx context.Context, number string) (*account.Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number)
	return scanAccount(row)
}

func (r accountRepo) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE number = $1)`, number,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account number: %w", mapError(err))
	}
	return exists, nil
}

func (r accountRepo) Insert(ctx context.Context, a *account.Account) error {
	query := `
		INSERT INTO accounts (owner_id, number, type, balance, status, min_balance,
			auto_transfer, version, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		RETURNING id
	`
	err := r.q.QueryRowContext(ctx, query,
		a.OwnerID, a.Number, a.Type, a.Balance, a.Status, nullableMoney(a.MinBalance),
		a.AutoTransfer, a.CreatedAt, a.UpdatedAt, a.ClosedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert account: %w", mapError(err))
	}
	a.Version = 0
	return nil
}

func (r accountRepo) Update(ctx context.Context, a *account.Account) error {
	query := `
		UPDATE accounts
		SET balance = $3, status = $4, min_balance = $5, auto_transfer = $6,
			updated_at = $7, closed_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := r.q.ExecContext(ctx, query,
		a.ID, a.Version, a.Balance, a.Status, nullableMoney(a.MinBalance),
		a.AutoTransfer, a.UpdatedAt, a.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return versionMiss(ctx, r.q, "accounts", a.ID)
	}
	a.Version++
	return nil
}

// Package storage defines the transactional persistence contract used by the
// ledger and the auto-transfer executor.
//
// Repositories hand out copies. Changes reach the store only through Insert or
// Update inside a transaction, and only when the transaction commits.
package storage

import (
	"context"
	"errors"
	"time"

	"ledger/pkg/account"
	"ledger/pkg/schedule"
)

// Store conditions. Implementations wrap driver errors so callers can match
// these with errors.Is.
var (
	ErrNotFound = errors.New("storage: not found")
	// ErrVersionConflict means the row changed since it was read
	ErrVersionConflict = errors.New("storage: version conflict")
	// ErrDuplicateKey means a unique constraint rejected the write
	ErrDuplicateKey = errors.New("storage: duplicate key")
	ErrClosed       = errors.New("storage: store closed")
)

// IsExpected reports whether err is a data condition rather than an
// infrastructure fault.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrDuplicateKey)
}

// AccountRepository persists accounts
type AccountRepository interface {
	Get(ctx context.Context, id int64) (*account.Account, error)
	GetByNumber(ctx context.Context, number string) (*account.Account, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	// Insert assigns a.ID and stores version 0. A taken number yields ErrDuplicateKey.
	Insert(ctx context.Context, a *account.Account) error
	// Update writes a only if the stored version equals a.Version, then
	// increments a.Version. Otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, a *account.Account) error
}

// EntryRepository persists journal entries
type EntryRepository interface {
	// Append stores e. A reused idempotency key yields ErrDuplicateKey.
	Append(ctx context.Context, e *account.Entry) error
	ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error)
	// ListByAccount returns up to limit entries, newest first.
	// A limit <= 0 returns every entry.
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*account.Entry, error)
}

// ScheduleRepository persists auto-transfer schedules
type ScheduleRepository interface {
	Insert(ctx context.Context, s *schedule.Schedule) error
	Get(ctx context.Context, id int64) (*schedule.Schedule, error)
	// Due returns up to limit active schedules with NextRunAt <= now, oldest
	// first. A limit <= 0 returns all of them.
	Due(ctx context.Context, now time.Time, limit int) ([]*schedule.Schedule, error)
	// Update has the same version semantics as AccountRepository.Update
	Update(ctx context.Context, s *schedule.Schedule) error
}

// Tx exposes repositories bound to one transaction
type Tx interface {
	Accounts() AccountRepository
	Entries() EntryRepository
	Schedules() ScheduleRepository
}

// TxFunc is the body of a transaction
type TxFunc func(ctx context.Context, tx Tx) error

// Store runs transactions
type Store interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	// Either every write made through tx becomes visible or none does.
	WithinTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"ledger/pkg/account"
	"ledger/pkg/directory"
	"ledger/pkg/money"
	"ledger/pkg/schedule"
	"ledger/pkg/storage"

	"github.com/lib/pq"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, storage.ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505", Constraint: "accounts_number_key"}, storage.ErrDuplicateKey},
		{"serialization failure", &pq.Error{Code: "40001"}, storage.ErrVersionConflict},
		{"deadlock", fmt.Errorf("exec: %w", &pq.Error{Code: "40P01"}), storage.ErrVersionConflict},
		{"client cancel", &pq.Error{Code: "57014", Message: "canceling statement due to user request"}, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	stmtTimeout := &pq.Error{Code: "57014", Message: "canceling statement due to statement timeout"}
	if got := mapError(stmtTimeout); errors.Is(got, context.Canceled) {
		t.Errorf("Expected statement timeout to stay a failure, got %v", got)
	}

	other := errors.New("connection reset")
	if got := mapError(other); got != other {
		t.Errorf("Expected unrelated error to pass through, got %v", got)
	}
}

func TestConfig_ConnString(t *testing.T) {
	cfg := DefaultConfig()
	want := "host=localhost port=5432 user=postgres password=postgres dbname=ledger sslmode=disable"
	if got := cfg.connString(); got != want {
		t.Errorf("connString() = %q, want %q", got, want)
	}

	cfg.DSN = "postgres://u:p@db/ledger"
	if got := cfg.connString(); got != cfg.DSN {
		t.Errorf("Expected DSN to win, got %q", got)
	}
}

func TestLimitArg(t *testing.T) {
	if got := limitArg(0); got != nil {
		t.Errorf("limitArg(0) = %v, want nil (LIMIT ALL)", got)
	}
	if got := limitArg(-5); got != nil {
		t.Errorf("limitArg(-5) = %v, want nil (LIMIT ALL)", got)
	}
	if got := limitArg(50); got != 50 {
		t.Errorf("limitArg(50) = %v, want 50", got)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	s, err := New(Config{DSN: dsn})
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func uniqueNumber() string {
	n := time.Now().UnixNano()
	return fmt.Sprintf("%03d-%04d-%07d", n%1000, (n/1000)%10000, (n/10000000)%10000000)
}

func TestStore_AccountLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	owner, err := NewOwners(s).Create(ctx, "Kim")
	if err != nil {
		t.Fatalf("Create owner failed: %v", err)
	}

	initial := money.FromInt(10000)
	a := account.New(owner.ID, uniqueNumber(), &initial, account.TypeSavings, &initial, false, now)

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Accounts().Insert(ctx, a); err != nil {
			return err
		}
		return tx.Entries().Append(ctx, account.NewEntry(a, account.EntryDeposit, initial, "opening deposit", now))
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Same number again
	dup := account.New(owner.ID, a.Number, &initial, account.TypeDeposit, nil, false, now)
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Accounts().Insert(ctx, dup)
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	var loaded *account.Account
	s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		loaded, err = tx.Accounts().GetByNumber(ctx, a.Number)
		return err
	})
	if err != nil {
		t.Fatalf("GetByNumber failed: %v", err)
	}
	if !loaded.Balance.Equal(initial) || loaded.MinBalance == nil || !loaded.MinBalance.Equal(initial) {
		t.Errorf("Unexpected account: %+v", loaded)
	}

	stale := loaded.Clone()
	loaded.ApplyDeposit(money.FromInt(500), now)
	if err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Accounts().Update(ctx, loaded)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if loaded.Version != 1 {
		t.Errorf("Expected version 1, got %d", loaded.Version)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Accounts().Update(ctx, stale)
	})
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}
}

func TestStore_ListByAccountLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	owner, err := NewOwners(s).Create(ctx, "Lee")
	if err != nil {
		t.Fatalf("Create owner failed: %v", err)
	}
	initial := money.FromInt(100)
	a := account.New(owner.ID, uniqueNumber(), &initial, account.TypeDeposit, nil, false, now)

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Accounts().Insert(ctx, a); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			if err := tx.Entries().Append(ctx, account.NewEntry(a, account.EntryDeposit, money.FromInt(1), "", now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	for limit, want := range map[int]int{0: 3, -1: 3, 2: 2} {
		var entries []*account.Entry
		err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			entries, err = tx.Entries().ListByAccount(ctx, a.ID, limit)
			return err
		})
		if err != nil {
			t.Fatalf("ListByAccount(%d) failed: %v", limit, err)
		}
		if len(entries) != want {
			t.Errorf("ListByAccount(%d) returned %d entries, want %d", limit, len(entries), want)
		}
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	initial := money.FromInt(1000)
	a := account.New(1, uniqueNumber(), &initial, account.TypeDeposit, nil, false, now)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Accounts().Insert(ctx, a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		exists, err := tx.Accounts().ExistsByNumber(ctx, a.Number)
		if err == nil && exists {
			return errors.New("rolled back insert is visible")
		}
		return err
	})
	if err != nil {
		t.Error(err)
	}
}

func TestStore_DueSchedules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sc, err := schedule.New(schedule.CreateParams{
		OwnerID:                  1,
		SourceAccountNumber:      uniqueNumber(),
		DestinationAccountNumber: "999-9999-9999999",
		Amount:                   money.FromInt(1000),
		DayOfMonth:               1,
		RunTime:                  schedule.RunTime{Hour: 9},
	}, now.AddDate(0, -2, 0), time.UTC)
	if err != nil {
		t.Fatalf("schedule.New failed: %v", err)
	}

	if err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Schedules().Insert(ctx, sc)
	}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	var found bool
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		due, err := tx.Schedules().Due(ctx, now, 1000)
		for _, d := range due {
			if d.ID == sc.ID {
				found = true
			}
		}
		return err
	})
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if !found {
		t.Error("Expected inserted schedule to be due")
	}
}

func TestOwners_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := NewOwners(s).FindByID(context.Background(), -1)
	if !errors.Is(err, directory.ErrOwnerNotFound) {
		t.Errorf("Expected ErrOwnerNotFound, got %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	if err := s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error { return nil }); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

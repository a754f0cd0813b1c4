// Package ledger coordinates account operations inside store transactions.
//
// Every mutation loads the aggregate, asks it to judge the change, maps any
// violation to an error, applies the change and saves it with a version check,
// all in one transaction. Version conflicts are retried a bounded number of
// times before ErrOptimisticConflict is returned.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledger/pkg/account"
	"ledger/pkg/allocator"
	"ledger/pkg/clock"
	"ledger/pkg/directory"
	"ledger/pkg/logging"
	"ledger/pkg/metrics"
	"ledger/pkg/money"
	"ledger/pkg/storage"
)

// Operation names used in logs and metrics
const (
	OpCreateAccount = "create_account"
	OpDeposit       = "deposit"
	OpWithdraw      = "withdraw"
	OpTransfer      = "transfer"
	OpClose         = "close"
)

// NumberAllocator hands out unused account numbers
type NumberAllocator interface {
	Allocate(ctx context.Context, exists allocator.ExistsFunc) (string, error)
	Remember(number string)
}

// Service implements the ledger operations
type Service struct {
	store   storage.Store
	owners  directory.Directory
	numbers NumberAllocator
	config  Config
	clock   clock.Clock
	metrics metrics.Collector
	logger  *logging.Logger
}

// Option customizes a Service
type Option func(*Service)

// WithConfig replaces DefaultConfig
func WithConfig(c Config) Option {
	return func(s *Service) { s.config = c }
}

// WithClock sets the time source
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires a Service
func NewService(store storage.Store, owners directory.Directory, numbers NumberAllocator, opts ...Option) *Service {
	s := &Service{
		store:   store,
		owners:  owners,
		numbers: numbers,
		config:  DefaultConfig(),
		clock:   clock.System(),
		metrics: metrics.NoOpCollector{},
		logger:  logging.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.Policies == nil {
		s.config.Policies = account.DefaultPolicies()
	}
	if s.config.InsertRetries <= 0 {
		s.config.InsertRetries = 1
	}
	s.logger = s.logger.Named("ledger")
	return s
}

func (s *Service) observe(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = Code(err)
	}
	s.metrics.RecordOperation(op, outcome, time.Since(start))
}

// CreateAccountRequest describes a new account
type CreateAccountRequest struct {
	OwnerID        int64
	Type           account.Type
	InitialDeposit *money.Money
	AutoTransfer   bool
}

// CreateAccount validates the request against the policy for its type,
// allocates a fresh number and persists an ACTIVE account with the opening
// deposit journaled.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (acc *account.Account, err error) {
	defer func(start time.Time) { s.observe(OpCreateAccount, start, err) }(time.Now())

	if req.InitialDeposit == nil {
		return nil, ErrInitialDepositRequired
	}
	initial := money.Of(req.InitialDeposit.Decimal())
	policy, err := s.config.Policies.Lookup(req.Type)
	if err != nil {
		return nil, err
	}
	if initial.LessThan(policy.MinimumInitial) {
		return nil, fmt.Errorf("%w: %s requires %s", ErrInitialDepositBelowMin, req.Type, policy.MinimumInitial)
	}

	if _, err := s.owners.FindByID(ctx, req.OwnerID); err != nil {
		if errors.Is(err, directory.ErrOwnerNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ledger: look up owner: %w", err)
	}

	for attempt := 1; attempt <= s.config.InsertRetries; attempt++ {
		err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			number, err := s.numbers.Allocate(ctx, tx.Accounts().ExistsByNumber)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			a := account.New(req.OwnerID, number, &initial, req.Type, policy.MinBalance, req.AutoTransfer, now)
			if err := tx.Accounts().Insert(ctx, a); err != nil {
				return err
			}
			if err := tx.Entries().Append(ctx, account.NewEntry(a, account.EntryDeposit, initial, "opening deposit", now)); err != nil {
				return err
			}
			acc = a
			return nil
		})
		if err == nil {
			s.numbers.Remember(acc.Number)
			s.logger.Info("account created",
				logging.AccountID(acc.ID),
				logging.AccountNumber(acc.Number),
				zap.String("type", string(acc.Type)),
			)
			return acc, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
		s.logger.Debug("account number taken at insert, regenerating", zap.Int("attempt", attempt))
	}

	return nil, ErrDuplicateAccountNumber
}

// Deposit adds amount to an active account
func (s *Service) Deposit(ctx context.Context, accountID int64, amount money.Money) (acc *account.Account, err error) {
	defer func(start time.Time) { s.observe(OpDeposit, start, err) }(time.Now())

	err = s.withRetry(ctx, OpDeposit, func(ctx context.Context, tx storage.Tx) error {
		a, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if v := a.JudgeDeposit(amount); v != account.NoViolation {
			return v.Err()
		}
		now := s.clock.Now()
		a.ApplyDeposit(amount, now)
		if err := tx.Accounts().Update(ctx, a); err != nil {
			return err
		}
		if err := tx.Entries().Append(ctx, account.NewEntry(a, account.EntryDeposit, amount, "", now)); err != nil {
			return err
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Withdraw removes amount from an active account, respecting its floor
func (s *Service) Withdraw(ctx context.Context, accountID int64, amount money.Money) (acc *account.Account, err error) {
	defer func(start time.Time) { s.observe(OpWithdraw, start, err) }(time.Now())

	err = s.withRetry(ctx, OpWithdraw, func(ctx context.Context, tx storage.Tx) error {
		a, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if v := a.JudgeWithdraw(amount); v != account.NoViolation {
			return v.Err()
		}
		now := s.clock.Now()
		a.ApplyWithdraw(amount, now)
		if err := tx.Accounts().Update(ctx, a); err != nil {
			return err
		}
		if err := tx.Entries().Append(ctx, account.NewEntry(a, account.EntryWithdraw, amount, "", now)); err != nil {
			return err
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// TransferOption customizes a transfer
type TransferOption func(*transferOptions)

type transferOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey makes the transfer apply at most once per key.
// A repeated call returns ErrAlreadyApplied without touching balances.
func WithIdempotencyKey(key string) TransferOption {
	return func(o *transferOptions) { o.idempotencyKey = key }
}

// TransferResult describes a committed transfer
type TransferResult struct {
	ID   uuid.UUID
	From *account.Account
	To   *account.Account
}

// Transfer moves amount between two accounts atomically. The withdraw leg
// is judged and applied first; if either leg is rejected nothing is written.
func (s *Service) Transfer(ctx context.Context, from, to string, amount money.Money, memo string, opts ...TransferOption) (res *TransferResult, err error) {
	defer func(start time.Time) { s.observe(OpTransfer, start, err) }(time.Now())

	var o transferOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := account.ValidateNumber(from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := account.ValidateNumber(to); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if from == to {
		return nil, ErrSameAccount
	}

	err = s.withRetry(ctx, OpTransfer, func(ctx context.Context, tx storage.Tx) error {
		if o.idempotencyKey != "" {
			applied, err := tx.Entries().ExistsByIdempotencyKey(ctx, o.idempotencyKey)
			if err != nil {
				return err
			}
			if applied {
				return ErrAlreadyApplied
			}
		}

		src, err := loadAccountByNumber(ctx, tx, from)
		if err != nil {
			return err
		}
		dst, err := loadAccountByNumber(ctx, tx, to)
		if err != nil {
			return err
		}

		if v := src.JudgeWithdraw(amount); v != account.NoViolation {
			return v.Err()
		}
		if v := dst.JudgeDeposit(amount); v != account.NoViolation {
			return v.Err()
		}

		now := s.clock.Now()
		id := uuid.New()

		src.ApplyWithdraw(amount, now)
		if err := tx.Accounts().Update(ctx, src); err != nil {
			return err
		}
		dst.ApplyDeposit(amount, now)
		if err := tx.Accounts().Update(ctx, dst); err != nil {
			return err
		}

		out := account.NewEntry(src, account.EntryTransferOut, amount, memo, now)
		out.TransferID = &id
		out.IdempotencyKey = o.idempotencyKey
		if err := tx.Entries().Append(ctx, out); err != nil {
			return err
		}
		in := account.NewEntry(dst, account.EntryTransferIn, amount, memo, now)
		in.TransferID = &id
		if err := tx.Entries().Append(ctx, in); err != nil {
			return err
		}

		res = &TransferResult{ID: id, From: src, To: dst}
		return nil
	})
	if err != nil {
		// A concurrent call with the same key won the unique index
		if o.idempotencyKey != "" && errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrAlreadyApplied
		}
		return nil, err
	}

	s.logger.Info("transfer committed",
		zap.String("transfer_id", res.ID.String()),
		zap.String("from", logging.MaskAccountNumber(from)),
		zap.String("to", logging.MaskAccountNumber(to)),
		zap.Stringer("amount", amount),
	)
	return res, nil
}

// Close moves an account to CLOSED. Closing twice is not an error.
func (s *Service) Close(ctx context.Context, accountID int64) (acc *account.Account, err error) {
	defer func(start time.Time) { s.observe(OpClose, start, err) }(time.Now())

	err = s.withRetry(ctx, OpClose, func(ctx context.Context, tx storage.Tx) error {
		a, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if a.Close(s.clock.Now()) {
			if err := tx.Accounts().Update(ctx, a); err != nil {
				return err
			}
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Account returns the current state of an account
func (s *Service) Account(ctx context.Context, id int64) (acc *account.Account, err error) {
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acc, err = loadAccount(ctx, tx, id)
		return err
	})
	return acc, err
}

// AccountByNumber looks an account up by its number
func (s *Service) AccountByNumber(ctx context.Context, number string) (acc *account.Account, err error) {
	if err := account.ValidateNumber(number); err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		acc, err = loadAccountByNumber(ctx, tx, number)
		return err
	})
	return acc, err
}

// Entries returns up to limit journal entries for an account, newest first.
// A limit <= 0 returns the whole journal.
func (s *Service) Entries(ctx context.Context, accountID int64, limit int) (entries []*account.Entry, err error) {
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadAccount(ctx, tx, accountID); err != nil {
			return err
		}
		entries, err = tx.Entries().ListByAccount(ctx, accountID, limit)
		return err
	})
	return entries, err
}

func loadAccount(ctx context.Context, tx storage.Tx, id int64) (*account.Account, error) {
	a, err := tx.Accounts().Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func loadAccountByNumber(ctx context.Context, tx storage.Tx, number string) (*account.Account, error) {
	a, err := tx.Accounts().GetByNumber(ctx, number)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, logging.MaskAccountNumber(number))
	}
	return a, err
}

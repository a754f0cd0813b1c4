package autotransfer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ledger/pkg/clock"
	"ledger/pkg/ledger"
	"ledger/pkg/logging"
	"ledger/pkg/money"
	"ledger/pkg/schedule"
	"ledger/pkg/storage"
)

var (
	// ErrNotOwner is returned when the caller does not own the source account
	ErrNotOwner = errors.New("autotransfer: source account belongs to another owner")
	// ErrScheduleNotFound is returned for unknown schedule IDs
	ErrScheduleNotFound = errors.New("autotransfer: schedule not found")
)

// CreateScheduleRequest registers a monthly transfer
type CreateScheduleRequest struct {
	OwnerID                  int64
	SourceAccountNumber      string
	DestinationAccountNumber string
	Amount                   money.Money
	DayOfMonth               int
	RunTime                  schedule.RunTime
	MaxRetries               int
}

// Registry creates and manages schedules
type Registry struct {
	store    storage.Store
	clock    clock.Clock
	location *time.Location
	logger   *logging.Logger
}

// NewRegistry creates a registry that computes occurrences in loc
func NewRegistry(store storage.Store, c clock.Clock, loc *time.Location) *Registry {
	if c == nil {
		c = clock.System()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		store:    store,
		clock:    c,
		location: loc,
		logger:   logging.L().Named("autotransfer"),
	}
}

// Create validates the request and stores an active schedule. The source
// account must exist, be active and belong to the requesting owner.
func (r *Registry) Create(ctx context.Context, req CreateScheduleRequest) (*schedule.Schedule, error) {
	sc, err := schedule.New(schedule.CreateParams{
		OwnerID:                  req.OwnerID,
		SourceAccountNumber:      req.SourceAccountNumber,
		DestinationAccountNumber: req.DestinationAccountNumber,
		Amount:                   req.Amount,
		DayOfMonth:               req.DayOfMonth,
		RunTime:                  req.RunTime,
		MaxRetries:               req.MaxRetries,
	}, r.clock.Now(), r.location)
	if err != nil {
		return nil, err
	}

	err = r.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		src, err := tx.Accounts().GetByNumber(ctx, req.SourceAccountNumber)
		if errors.Is(err, storage.ErrNotFound) {
			return ledger.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if src.OwnerID != req.OwnerID {
			return ErrNotOwner
		}
		if err := src.EnsureActive(); err != nil {
			return err
		}
		return tx.Schedules().Insert(ctx, sc)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("schedule created",
		logging.ScheduleID(sc.ID),
		logging.AccountNumber(sc.SourceAccountNumber),
		zap.Int("day_of_month", sc.DayOfMonth),
		zap.Time("next_run_at", sc.NextRunAt),
	)
	return sc, nil
}

// Get returns a schedule by ID
func (r *Registry) Get(ctx context.Context, id int64) (sc *schedule.Schedule, err error) {
	err = r.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sc, err = tx.Schedules().Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return err
	})
	return sc, err
}

// Deactivate stops a schedule on behalf of its owner
func (r *Registry) Deactivate(ctx context.Context, id, ownerID int64) (sc *schedule.Schedule, err error) {
	for attempt := 0; attempt < 3; attempt++ {
		err = r.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			current, err := tx.Schedules().Get(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return ErrScheduleNotFound
			}
			if err != nil {
				return err
			}
			if current.OwnerID != ownerID {
				return ErrNotOwner
			}
			if current.Active {
				current.Deactivate(r.clock.Now())
				if err := tx.Schedules().Update(ctx, current); err != nil {
					return err
				}
			}
			sc = current
			return nil
		})
		if !errors.Is(err, storage.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

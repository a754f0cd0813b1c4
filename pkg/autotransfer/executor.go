// Package autotransfer runs due schedules against the ledger.
//
// The Executor polls on a fixed interval. Each tick loads the schedules that
// are due, executes each one as a keyed ledger transfer and records the
// outcome on the schedule. A failing schedule is recorded and skipped; it
// never stops the rest of the batch.
package autotransfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ledger/pkg/clock"
	"ledger/pkg/ledger"
	"ledger/pkg/logging"
	"ledger/pkg/metrics"
	"ledger/pkg/money"
	"ledger/pkg/schedule"
	"ledger/pkg/storage"
)

var (
	// ErrTickInProgress is returned when RunOnce overlaps a running tick
	ErrTickInProgress = errors.New("autotransfer: tick already in progress")
	// ErrLockHeld is returned when another instance holds the executor lock
	ErrLockHeld = errors.New("autotransfer: executor lock held by another instance")
)

// Transferer executes a transfer between two accounts
type Transferer interface {
	Transfer(ctx context.Context, from, to string, amount money.Money, memo string, opts ...ledger.TransferOption) (*ledger.TransferResult, error)
}

// Locker provides cross-instance mutual exclusion. TryLock must not block
// waiting for the lock; ok=false means someone else holds it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Config controls the executor
type Config struct {
	// Interval between ticks
	Interval time.Duration
	// BatchSize bounds the schedules loaded per tick
	BatchSize int
	// Concurrency bounds schedules executed in parallel within a tick
	Concurrency int
	// ItemTimeout bounds one schedule's transfer
	ItemTimeout time.Duration
	// RecordRetries bounds version-conflict retries when recording an outcome
	RecordRetries int
	LockKey       string
	// LockTTL should exceed the longest expected tick
	LockTTL time.Duration
	Memo    string
	Policy  schedule.FailurePolicy
}

// DefaultConfig ticks every minute and deactivates schedules that exhaust
// their retries
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		BatchSize:     100,
		Concurrency:   4,
		ItemTimeout:   30 * time.Second,
		RecordRetries: 3,
		LockKey:       "autotransfer:executor",
		LockTTL:       5 * time.Minute,
		Memo:          "[AUTO] monthly transfer",
		Policy:        schedule.FailurePolicy{DeactivateAfterMaxRetries: true},
	}
}

// TickReport summarises one tick
type TickReport struct {
	Due         int
	Succeeded   int
	Failed      int
	Deactivated int
	// Duplicates were already applied by an earlier, unrecorded run
	Duplicates int
	// Stale items were recorded by another worker first
	Stale    int
	Duration time.Duration
}

func (r *TickReport) add(o metrics.RunOutcome) {
	switch o {
	case metrics.RunSucceeded:
		r.Succeeded++
	case metrics.RunDuplicate:
		r.Duplicates++
	case metrics.RunFailed:
		r.Failed++
	case metrics.RunDeactivated:
		r.Failed++
		r.Deactivated++
	case metrics.RunStale:
		r.Stale++
	}
}

// Executor runs due schedules
type Executor struct {
	store   storage.Store
	ledger  Transferer
	locker  Locker
	clock   clock.Clock
	config  Config
	metrics metrics.Collector
	logger  *logging.Logger

	guard *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ExecutorOption customizes an Executor
type ExecutorOption func(*Executor)

// WithExecutorConfig replaces DefaultConfig
func WithExecutorConfig(c Config) ExecutorOption {
	return func(e *Executor) { e.config = c }
}

// WithLocker enables cross-instance exclusion
func WithLocker(l Locker) ExecutorOption {
	return func(e *Executor) { e.locker = l }
}

// WithExecutorClock sets the time source
func WithExecutorClock(c clock.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithExecutorMetrics sets the metrics collector
func WithExecutorMetrics(m metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithExecutorLogger sets the logger
func WithExecutorLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor. It does nothing until Start or RunOnce.
func NewExecutor(store storage.Store, transferer Transferer, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   store,
		ledger:  transferer,
		clock:   clock.System(),
		config:  DefaultConfig(),
		metrics: metrics.NoOpCollector{},
		logger:  logging.L(),
		guard:   semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(e)
	}

	defaults := DefaultConfig()
	if e.config.Interval <= 0 {
		e.config.Interval = defaults.Interval
	}
	if e.config.BatchSize <= 0 {
		e.config.BatchSize = defaults.BatchSize
	}
	if e.config.Concurrency <= 0 {
		e.config.Concurrency = 1
	}
	if e.config.ItemTimeout <= 0 {
		e.config.ItemTimeout = defaults.ItemTimeout
	}
	if e.config.LockKey == "" {
		e.config.LockKey = defaults.LockKey
	}
	if e.config.LockTTL <= 0 {
		e.config.LockTTL = defaults.LockTTL
	}
	e.logger = e.logger.Named("autotransfer")
	return e
}

// Start runs ticks in the background until ctx is done or Stop is called.
// Calling Start on a running executor is a no-op.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx, e.done)

	e.logger.Info("executor started", zap.Duration("interval", e.config.Interval))
}

// Stop cancels the loop and waits for an in-flight tick to finish
func (e *Executor) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("executor stopped")
}

func (e *Executor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := e.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrLockHeld):
				e.logger.Debug("tick skipped", zap.Error(err))
			case err != nil:
				e.logger.Error("tick failed", zap.Error(err))
			case report.Due > 0:
				e.logger.Info("tick completed",
					zap.Int("due", report.Due),
					zap.Int("succeeded", report.Succeeded),
					zap.Int("failed", report.Failed),
					zap.Int("deactivated", report.Deactivated),
					zap.Duration("duration", report.Duration),
				)
			}
		}
	}
}

// RunOnce executes one tick. Overlapping calls in the same process return
// ErrTickInProgress immediately.
func (e *Executor) RunOnce(ctx context.Context) (TickReport, error) {
	if !e.guard.TryAcquire(1) {
		e.metrics.RecordTick(metrics.TickOverlap, 0, 0)
		return TickReport{}, ErrTickInProgress
	}
	defer e.guard.Release(1)

	start := time.Now()

	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx, e.config.LockKey, e.config.LockTTL)
		if err != nil {
			e.metrics.RecordTick(metrics.TickFailed, 0, time.Since(start))
			return TickReport{}, fmt.Errorf("autotransfer: acquire lock: %w", err)
		}
		if !ok {
			e.metrics.RecordTick(metrics.TickLocked, 0, time.Since(start))
			return TickReport{}, ErrLockHeld
		}
		defer func() {
			// The tick's ctx may already be cancelled; release regardless
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(rctx); err != nil {
				e.logger.Warn("failed to release executor lock", zap.Error(err))
			}
		}()
	}

	now := e.clock.Now()
	var due []*schedule.Schedule
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		due, err = tx.Schedules().Due(ctx, now, e.config.BatchSize)
		return err
	})
	if err != nil {
		e.metrics.RecordTick(metrics.TickFailed, 0, time.Since(start))
		return TickReport{}, fmt.Errorf("autotransfer: load due schedules: %w", err)
	}

	report := TickReport{Due: len(due)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for _, sc := range due {
		g.Go(func() error {
			outcome := e.process(ctx, sc)
			e.metrics.RecordScheduleRun(outcome)
			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	e.metrics.RecordTick(metrics.TickCompleted, report.Due, report.Duration)
	return report, nil
}

// process executes one schedule and records the outcome
func (e *Executor) process(ctx context.Context, sc *schedule.Schedule) metrics.RunOutcome {
	log := e.logger.With(logging.ScheduleID(sc.ID), zap.Time("occurrence", sc.NextRunAt))

	runErr := e.execute(ctx, sc)
	duplicate := errors.Is(runErr, ledger.ErrAlreadyApplied)
	succeeded := runErr == nil || duplicate
	if !succeeded {
		log.Warn("scheduled transfer failed",
			zap.String("code", ledger.Code(runErr)),
			zap.Error(runErr),
		)
	}

	deactivated, stale, err := e.record(ctx, sc, succeeded)
	switch {
	case err != nil:
		// The transfer outcome stands; the occurrence stays due and the
		// idempotency key prevents a second transfer on the next tick.
		log.Error("failed to record schedule outcome", zap.Error(err))
		if succeeded {
			return metrics.RunSucceeded
		}
		return metrics.RunFailed
	case stale:
		log.Debug("occurrence already recorded elsewhere")
		return metrics.RunStale
	case deactivated:
		log.Warn("schedule deactivated after repeated failures", zap.Int("max_retries", sc.MaxRetries))
		return metrics.RunDeactivated
	case duplicate:
		return metrics.RunDuplicate
	case succeeded:
		return metrics.RunSucceeded
	default:
		return metrics.RunFailed
	}
}

// execute performs the transfer, converting a panic into an error so that
// one bad item cannot take down the tick
func (e *Executor) execute(ctx context.Context, sc *schedule.Schedule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("autotransfer: panic executing schedule %d: %v", sc.ID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.config.ItemTimeout)
	defer cancel()

	_, err = e.ledger.Transfer(ctx,
		sc.SourceAccountNumber,
		sc.DestinationAccountNumber,
		sc.Amount,
		e.config.Memo,
		ledger.WithIdempotencyKey(sc.IdempotencyKey()),
	)
	return err
}

// record applies MarkSuccess or MarkFailure to the stored schedule. If the
// stored occurrence has moved on, another worker recorded it and stale is true.
func (e *Executor) record(ctx context.Context, sc *schedule.Schedule, succeeded bool) (deactivated, stale bool, err error) {
	for attempt := 0; attempt <= e.config.RecordRetries; attempt++ {
		deactivated, stale = false, false
		err = e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			current, err := tx.Schedules().Get(ctx, sc.ID)
			if err != nil {
				return err
			}
			if !current.Active || !current.NextRunAt.Equal(sc.NextRunAt) {
				stale = true
				return nil
			}
			now := e.clock.Now()
			if succeeded {
				current.MarkSuccess(now)
			} else {
				deactivated = current.MarkFailure(now, e.config.Policy)
			}
			return tx.Schedules().Update(ctx, current)
		})
		if !errors.Is(err, storage.ErrVersionConflict) {
			return deactivated, stale, err
		}
	}
	return false, false, err
}

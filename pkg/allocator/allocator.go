// Package allocator issues account numbers that are not yet in use.
package allocator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"go.uber.org/zap"

	"ledger/pkg/logging"
)

// ErrGenerationFailed is returned when every candidate was already taken
var ErrGenerationFailed = errors.New("allocator: could not find a free account number")

// ExistsFunc reports whether number is already assigned. It is the
// authoritative check, normally backed by the account store.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Config controls allocation
type Config struct {
	// MaxAttempts bounds the candidates tried per Allocate call
	MaxAttempts int
	// FilterCapacity and FilterFalsePositiveRate size the issued-number filter.
	// A zero capacity disables the filter.
	FilterCapacity          uint
	FilterFalsePositiveRate float64
}

// DefaultConfig returns 20 attempts and a filter sized for one million numbers
func DefaultConfig() Config {
	return Config{
		MaxAttempts:             20,
		FilterCapacity:          1_000_000,
		FilterFalsePositiveRate: 0.001,
	}
}

// Allocator generates random candidates in the ddd-dddd-ddddddd format and
// returns the first one the ExistsFunc reports as free.
type Allocator struct {
	maxAttempts int
	random      io.Reader
	generate    func() (string, error)
	filter      *Filter
	logger      *logging.Logger
}

// Option customizes an Allocator
type Option func(*Allocator)

// WithRandom replaces crypto/rand as the entropy source
func WithRandom(r io.Reader) Option {
	return func(a *Allocator) { a.random = r }
}

// WithGenerator replaces candidate generation entirely
func WithGenerator(gen func() (string, error)) Option {
	return func(a *Allocator) { a.generate = gen }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// New creates an allocator
func New(cfg Config, opts ...Option) *Allocator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	a := &Allocator{
		maxAttempts: cfg.MaxAttempts,
		random:      rand.Reader,
		logger:      logging.L().Named("allocator"),
	}
	if cfg.FilterCapacity > 0 {
		a.filter = NewFilter(cfg.FilterCapacity, cfg.FilterFalsePositiveRate)
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.generate == nil {
		a.generate = a.randomNumber
	}
	return a
}

// Generate returns one candidate without checking availability
func (a *Allocator) Generate() (string, error) {
	return a.generate()
}

// Allocate tries up to MaxAttempts candidates and returns the first free one.
// A free number can still be taken by a concurrent writer before it is
// persisted; the store's unique constraint is the final arbiter.
func (a *Allocator) Allocate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate, err := a.generate()
		if err != nil {
			return "", fmt.Errorf("allocator: generate candidate: %w", err)
		}

		if a.filter != nil && a.filter.Issued(candidate) {
			a.logger.Debug("candidate rejected by filter", zap.Int("attempt", attempt))
			continue
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("allocator: check candidate: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		a.logger.Debug("candidate already assigned", zap.Int("attempt", attempt))
	}

	a.logger.Warn("account number space exhausted", zap.Int("attempts", a.maxAttempts))
	return "", ErrGenerationFailed
}

// Remember marks number as issued so later calls skip it without a store
// round trip.
func (a *Allocator) Remember(number string) {
	if a.filter != nil {
		a.filter.Add(number)
	}
}

// FilterStats reports filter effectiveness. The zero value is returned when
// the filter is disabled.
func (a *Allocator) FilterStats() FilterStats {
	if a.filter == nil {
		return FilterStats{}
	}
	return a.filter.Stats()
}

func (a *Allocator) randomNumber() (string, error) {
	bank, err := a.digits(1_000)
	if err != nil {
		return "", err
	}
	branch, err := a.digits(10_000)
	if err != nil {
		return "", err
	}
	serial, err := a.digits(10_000_000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d-%04d-%07d", bank, branch, serial), nil
}

func (a *Allocator) digits(limit int64) (int64, error) {
	n, err := rand.Int(a.random, big.NewInt(limit))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

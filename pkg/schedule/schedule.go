// Package schedule models recurring monthly transfers.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"ledger/pkg/account"
	"ledger/pkg/money"
)

// DefaultMaxRetries is the failure budget of a new schedule
const DefaultMaxRetries = 3

var (
	ErrInvalidDayOfMonth = errors.New("schedule: day of month must be between 1 and 31")
	ErrInvalidRunTime    = errors.New("schedule: invalid run time")
	ErrInvalidMaxRetries = errors.New("schedule: max retries must not be negative")
)

// Schedule is a standing order that moves Amount from the source account to
// the destination once a month.
type Schedule struct {
	ID                       int64
	OwnerID                  int64
	SourceAccountNumber      string
	DestinationAccountNumber string
	Amount                   money.Money
	// DayOfMonth is the requested day; short months run on their last day
	DayOfMonth int
	RunTime    RunTime
	// TimeZone is an IANA name used for calendar arithmetic
	TimeZone   string
	NextRunAt  time.Time
	LastRunAt  *time.Time
	Active     bool
	FailCount  int
	MaxRetries int
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams describes a new schedule
type CreateParams struct {
	OwnerID                  int64
	SourceAccountNumber      string
	DestinationAccountNumber string
	Amount                   money.Money
	DayOfMonth               int
	RunTime                  RunTime
	// MaxRetries of zero selects DefaultMaxRetries
	MaxRetries int
}

// FailurePolicy decides what happens once a schedule exhausts its retries
type FailurePolicy struct {
	// DeactivateAfterMaxRetries turns the schedule off when FailCount reaches MaxRetries
	DeactivateAfterMaxRetries bool
}

// New validates p and returns an active schedule whose first run is the
// earliest occurrence at or after now in loc.
func New(p CreateParams, now time.Time, loc *time.Location) (*Schedule, error) {
	if err := account.ValidateNumber(p.SourceAccountNumber); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := account.ValidateNumber(p.DestinationAccountNumber); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if p.SourceAccountNumber == p.DestinationAccountNumber {
		return nil, account.ErrSameAccount
	}
	if !p.Amount.IsPositive() {
		return nil, account.ErrAmountNotPositive
	}
	if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
		return nil, ErrInvalidDayOfMonth
	}
	if err := p.RunTime.Validate(); err != nil {
		return nil, err
	}
	if p.MaxRetries < 0 {
		return nil, ErrInvalidMaxRetries
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Schedule{
		OwnerID:                  p.OwnerID,
		SourceAccountNumber:      p.SourceAccountNumber,
		DestinationAccountNumber: p.DestinationAccountNumber,
		Amount:                   p.Amount,
		DayOfMonth:               p.DayOfMonth,
		RunTime:                  p.RunTime,
		TimeZone:                 loc.String(),
		NextRunAt:                FirstOccurrence(now, p.DayOfMonth, p.RunTime, loc),
		Active:                   true,
		MaxRetries:               p.MaxRetries,
		CreatedAt:                now,
		UpdatedAt:                now,
	}, nil
}

// Location resolves TimeZone, falling back to UTC
func (s *Schedule) Location() *time.Location {
	if s.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDue reports whether the schedule should run at now
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextRunAt.After(now)
}

// IdempotencyKey identifies the current occurrence. It stays the same until
// NextRunAt advances, so a retried execution of the same occurrence is
// recognised by the ledger.
func (s *Schedule) IdempotencyKey() string {
	return fmt.Sprintf("autotransfer:%d:%s", s.ID, s.NextRunAt.UTC().Format(time.RFC3339))
}

// MarkSuccess records a completed run at at and moves to the next occurrence.
func (s *Schedule) MarkSuccess(at time.Time) {
	s.FailCount = 0
	s.LastRunAt = &at
	s.advance()
	s.UpdatedAt = at
}

// MarkFailure records a failed run and moves to the next occurrence. It
// reports whether the schedule was deactivated.
func (s *Schedule) MarkFailure(at time.Time, policy FailurePolicy) bool {
	s.FailCount++
	s.advance()
	s.UpdatedAt = at
	if policy.DeactivateAfterMaxRetries && s.Active && s.FailCount >= s.MaxRetries {
		s.Active = false
		return true
	}
	return false
}

// Deactivate stops the schedule
func (s *Schedule) Deactivate(at time.Time) {
	s.Active = false
	s.UpdatedAt = at
}

func (s *Schedule) advance() {
	s.NextRunAt = NextOccurrence(s.NextRunAt, s.DayOfMonth, s.RunTime, s.Location())
}

// Clone returns a deep copy
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}

// Package account holds the account aggregate and its balance rules.
//
// State changes follow a judge-then-apply protocol: callers ask JudgeDeposit or
// JudgeWithdraw for a Violation, translate any violation into an error, and only
// then call the matching Apply method, which mutates without checking.
package account

import (
	"time"

	"ledger/pkg/money"
)

// Status is the account lifecycle state. ACTIVE moves to CLOSED and never back.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Type selects the policy applied at creation
type Type string

const (
	TypeDeposit Type = "DEPOSIT"
	TypeSavings Type = "SAVINGS"
)

// Account is a single ledger account.
type Account struct {
	ID      int64
	OwnerID int64
	// Number is assigned once at creation and never changes
	Number  string
	Type    Type
	Balance money.Money
	Status  Status
	// MinBalance is the floor for Balance. Nil means the floor is zero.
	MinBalance   *money.Money
	AutoTransfer bool
	// Version is the optimistic concurrency token, bumped by the store on every save
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// New builds an ACTIVE account. It applies no policy; callers validate the
// initial deposit against the PolicyTable first.
func New(ownerID int64, number string, initial *money.Money, typ Type, minBalance *money.Money, autoTransfer bool, now time.Time) *Account {
	balance := money.Zero()
	if initial != nil {
		balance = money.Of(initial.Decimal())
	}
	var floor *money.Money
	if minBalance != nil {
		f := money.Of(minBalance.Decimal())
		floor = &f
	}
	return &Account{
		OwnerID:      ownerID,
		Number:       number,
		Type:         typ,
		Balance:      balance,
		Status:       StatusActive,
		MinBalance:   floor,
		AutoTransfer: autoTransfer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsActive reports whether the account accepts balance changes
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// EnsureActive returns ErrNotActive for a closed account
func (a *Account) EnsureActive() error {
	if !a.IsActive() {
		return ErrNotActive
	}
	return nil
}

// JudgeDeposit reports why a deposit of amount would be rejected, or NoViolation.
func (a *Account) JudgeDeposit(amount money.Money) Violation {
	if !a.IsActive() {
		return ViolationNotActive
	}
	if !amount.IsPositive() {
		return ViolationNotPositive
	}
	return NoViolation
}

// JudgeWithdraw reports why a withdrawal of amount would be rejected, or
// NoViolation. Checks run in a fixed order: status, amount, floor, then sign,
// so an account with a floor reports MinBalance before InsufficientBalance.
func (a *Account) JudgeWithdraw(amount money.Money) Violation {
	if !a.IsActive() {
		return ViolationNotActive
	}
	if !amount.IsPositive() {
		return ViolationNotPositive
	}
	next := a.Balance.Minus(amount)
	if a.MinBalance != nil && next.LessThan(*a.MinBalance) {
		return ViolationMinBalance
	}
	if next.IsNegative() {
		return ViolationInsufficientBalance
	}
	return NoViolation
}

// ApplyDeposit adds amount. Call JudgeDeposit first.
func (a *Account) ApplyDeposit(amount money.Money, now time.Time) {
	a.Balance = a.Balance.Plus(money.Of(amount.Decimal()))
	a.UpdatedAt = now
}

// ApplyWithdraw subtracts amount. Call JudgeWithdraw first.
func (a *Account) ApplyWithdraw(amount money.Money, now time.Time) {
	a.Balance = a.Balance.Minus(money.Of(amount.Decimal()))
	a.UpdatedAt = now
}

// Close moves the account to CLOSED. Closing a closed account is a no-op and
// reports false.
func (a *Account) Close(now time.Time) bool {
	if a.Status == StatusClosed {
		return false
	}
	a.Status = StatusClosed
	a.ClosedAt = &now
	a.UpdatedAt = now
	return true
}

// Floor returns the effective minimum balance
func (a *Account) Floor() money.Money {
	if a.MinBalance != nil {
		return *a.MinBalance
	}
	return money.Zero()
}

// Clone returns a deep copy
func (a *Account) Clone() *Account {
	c := *a
	if a.MinBalance != nil {
		m := *a.MinBalance
		c.MinBalance = &m
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

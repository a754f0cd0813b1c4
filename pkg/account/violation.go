package account

import "errors"

// Errors for rejected balance changes. The ledger package re-exports these
// under its own taxonomy.
var (
	ErrNotActive           = errors.New("account: not active")
	ErrAmountNotPositive   = errors.New("account: amount must be positive")
	ErrMinBalanceViolation = errors.New("account: balance would fall below minimum")
	ErrInsufficientBalance = errors.New("account: insufficient balance")
	ErrInvalidNumberFormat = errors.New("account: invalid account number format")
	ErrUnknownType         = errors.New("account: unknown account type")
	ErrSameAccount         = errors.New("account: source and destination are the same account")
)

// Violation is the outcome of a judge call. The zero value means the change
// is allowed.
type Violation int

const (
	NoViolation Violation = iota
	ViolationNotActive
	ViolationNotPositive
	ViolationMinBalance
	ViolationInsufficientBalance
)

// Err returns the error for v, or nil for NoViolation
func (v Violation) Err() error {
	switch v {
	case ViolationNotActive:
		return ErrNotActive
	case ViolationNotPositive:
		return ErrAmountNotPositive
	case ViolationMinBalance:
		return ErrMinBalanceViolation
	case ViolationInsufficientBalance:
		return ErrInsufficientBalance
	default:
		return nil
	}
}

func (v Violation) String() string {
	switch v {
	case NoViolation:
		return "none"
	case ViolationNotActive:
		return "not_active"
	case ViolationNotPositive:
		return "not_positive"
	case ViolationMinBalance:
		return "min_balance"
	case ViolationInsufficientBalance:
		return "insufficient_balance"
	default:
		return "unknown"
	}
}

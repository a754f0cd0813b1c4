package ledger

import (
	"errors"

	"ledger/pkg/account"
	"ledger/pkg/allocator"
)

// Validation errors: the request is malformed or below policy.
var (
	ErrInitialDepositRequired     = errors.New("ledger: initial deposit is required")
	ErrInitialDepositBelowMin     = errors.New("ledger: initial deposit is below the minimum for this account type")
	ErrAmountMustBePositive       = account.ErrAmountNotPositive
	ErrInvalidAccountNumberFormat = account.ErrInvalidNumberFormat
	ErrUnknownAccountType         = account.ErrUnknownType
	ErrSameAccount                = account.ErrSameAccount
)

// State errors: the request is well formed but the account cannot take it.
var (
	ErrAccountNotActive    = account.ErrNotActive
	ErrMinBalanceViolation = account.ErrMinBalanceViolation
	ErrInsufficientBalance = account.ErrInsufficientBalance
)

// Not-found errors.
var (
	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrUserNotFound    = errors.New("ledger: user not found")
)

// Conflict and exhaustion errors.
var (
	ErrDuplicateAccountNumber = errors.New("ledger: account number collided on every insert attempt")
	ErrOptimisticConflict     = errors.New("ledger: concurrent modification, retries exhausted")
	// ErrAlreadyApplied means a keyed transfer was committed earlier
	ErrAlreadyApplied                = errors.New("ledger: transfer already applied")
	ErrAccountNumberGenerationFailed = allocator.ErrGenerationFailed
)

// Category groups errors by how a caller should react
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryState      Category = "state"
	CategoryNotFound   Category = "not_found"
	CategoryConflict   Category = "conflict"
	CategoryExhausted  Category = "exhausted"
	CategoryInternal   Category = "internal"
)

type classification struct {
	err      error
	code     string
	category Category
}

var classifications = []classification{
	{ErrInitialDepositRequired, "INITIAL_DEPOSIT_REQUIRED", CategoryValidation},
	{ErrInitialDepositBelowMin, "INITIAL_DEPOSIT_BELOW_MIN", CategoryValidation},
	{ErrAmountMustBePositive, "AMOUNT_MUST_BE_POSITIVE", CategoryValidation},
	{ErrInvalidAccountNumberFormat, "INVALID_ACCOUNT_NUMBER_FORMAT", CategoryValidation},
	{ErrUnknownAccountType, "UNKNOWN_ACCOUNT_TYPE", CategoryValidation},
	{ErrSameAccount, "SAME_ACCOUNT", CategoryValidation},
	{ErrAccountNotActive, "ACCOUNT_NOT_ACTIVE", CategoryState},
	{ErrMinBalanceViolation, "MIN_BALANCE_VIOLATION", CategoryState},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE", CategoryState},
	{ErrAccountNotFound, "ACCOUNT_NOT_FOUND", CategoryNotFound},
	{ErrUserNotFound, "USER_NOT_FOUND", CategoryNotFound},
	{ErrDuplicateAccountNumber, "DUPLICATE_ACCOUNT_NUMBER", CategoryConflict},
	{ErrOptimisticConflict, "OPTIMISTIC_CONFLICT", CategoryConflict},
	{ErrAlreadyApplied, "ALREADY_APPLIED", CategoryConflict},
	{ErrAccountNumberGenerationFailed, "ACCOUNT_NUMBER_GENERATION_FAILED", CategoryExhausted},
}

func classify(err error) (string, Category) {
	if err == nil {
		return "OK", ""
	}
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.code, c.category
		}
	}
	return "INTERNAL", CategoryInternal
}

// Code returns a stable identifier for err, suitable for API responses and
// metric labels. Unknown errors map to "INTERNAL"; nil maps to "OK".
func Code(err error) string {
	code, _ := classify(err)
	return code
}

// CategoryOf returns err's category, or CategoryInternal for unknown errors
func CategoryOf(err error) Category {
	_, cat := classify(err)
	return cat
}

// IsDomainError reports whether err is a business outcome rather than an
// infrastructure fault.
func IsDomainError(err error) bool {
	return err != nil && CategoryOf(err) != CategoryInternal
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return CategoryOf(err) == CategoryValidation
}

// IsState reports whether err rejects a change because of account state
func IsState(err error) bool {
	return CategoryOf(err) == CategoryState
}

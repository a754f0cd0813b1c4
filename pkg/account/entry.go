package account

import (
	"time"

	"github.com/google/uuid"

	"ledger/pkg/money"
)

// EntryKind classifies a journal entry
type EntryKind string

const (
	EntryDeposit     EntryKind = "DEPOSIT"
	EntryWithdraw    EntryKind = "WITHDRAW"
	EntryTransferIn  EntryKind = "TRANSFER_IN"
	EntryTransferOut EntryKind = "TRANSFER_OUT"
)

// Entry is one balance movement on an account, with the balance it left behind.
type Entry struct {
	ID        uuid.UUID
	AccountID int64
	// TransferID links the two legs of a transfer
	TransferID   *uuid.UUID
	Kind         EntryKind
	Amount       money.Money
	BalanceAfter money.Money
	Memo         string
	// IdempotencyKey is set on the debit leg of keyed transfers only
	IdempotencyKey string
	CreatedAt      time.Time
}

// NewEntry records a movement that has just been applied to a
func NewEntry(a *Account, kind EntryKind, amount money.Money, memo string, now time.Time) *Entry {
	return &Entry{
		ID:           uuid.New(),
		AccountID:    a.ID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: a.Balance,
		Memo:         memo,
		CreatedAt:    now,
	}
}

package api

import (
	"time"

	"ledger/pkg/account"
	"ledger/pkg/autotransfer"
	"ledger/pkg/money"
	"ledger/pkg/schedule"

	"github.com/google/uuid"
)

type createAccountRequest struct {
	OwnerID        int64        `json:"owner_id"`
	Type           string       `json:"type"`
	InitialDeposit *money.Money `json:"initial_deposit"`
	AutoTransfer   bool         `json:"auto_transfer"`
}

type amountRequest struct {
	Amount money.Money `json:"amount"`
}

type transferRequest struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Amount money.Money `json:"amount"`
	Memo   string      `json:"memo"`
}

type createScheduleRequest struct {
	OwnerID     int64       `json:"owner_id"`
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Amount      money.Money `json:"amount"`
	DayOfMonth  int         `json:"day_of_month"`
	// RunTime is "HH:MM" in the scheduler's time zone
	RunTime    string `json:"run_time"`
	MaxRetries int    `json:"max_retries"`
}

type deactivateScheduleRequest struct {
	OwnerID int64 `json:"owner_id"`
}

type accountResponse struct {
	ID           int64        `json:"id"`
	OwnerID      int64        `json:"owner_id"`
	Number       string       `json:"number"`
	Type         string       `json:"type"`
	Balance      money.Money  `json:"balance"`
	Status       string       `json:"status"`
	MinBalance   *money.Money `json:"min_balance,omitempty"`
	AutoTransfer bool         `json:"auto_transfer"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
}

func toAccount(a *account.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		OwnerID:      a.OwnerID,
		Number:       a.Number,
		Type:         string(a.Type),
		Balance:      a.Balance,
		Status:       string(a.Status),
		MinBalance:   a.MinBalance,
		AutoTransfer: a.AutoTransfer,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		ClosedAt:     a.ClosedAt,
	}
}

type entryResponse struct {
	ID           uuid.UUID   `json:"id"`
	AccountID    int64       `json:"account_id"`
	TransferID   *uuid.UUID  `json:"transfer_id,omitempty"`
	Kind         string      `json:"kind"`
	Amount       money.Money `json:"amount"`
	BalanceAfter money.Money `json:"balance_after"`
	Memo         string      `json:"memo,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

func toEntries(entries []*account.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:           e.ID,
			AccountID:    e.AccountID,
			TransferID:   e.TransferID,
			Kind:         string(e.Kind),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Memo:         e.Memo,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

type transferResponse struct {
	TransferID uuid.UUID       `json:"transfer_id"`
	From       accountResponse `json:"from"`
	To         accountResponse `json:"to"`
}

type scheduleResponse struct {
	ID          int64       `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Amount      money.Money `json:"amount"`
	DayOfMonth  int         `json:"day_of_month"`
	RunTime     string      `json:"run_time"`
	TimeZone    string      `json:"time_zone"`
	NextRunAt   time.Time   `json:"next_run_at"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	Active      bool        `json:"active"`
	FailCount   int         `json:"fail_count"`
	MaxRetries  int         `json:"max_retries"`
}

func toSchedule(sc *schedule.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:          sc.ID,
		OwnerID:     sc.OwnerID,
		Source:      sc.SourceAccountNumber,
		Destination: sc.DestinationAccountNumber,
		Amount:      sc.Amount,
		DayOfMonth:  sc.DayOfMonth,
		RunTime:     sc.RunTime.String(),
		TimeZone:    sc.TimeZone,
		NextRunAt:   sc.NextRunAt,
		LastRunAt:   sc.LastRunAt,
		Active:      sc.Active,
		FailCount:   sc.FailCount,
		MaxRetries:  sc.MaxRetries,
	}
}

type tickResponse struct {
	Due         int    `json:"due"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Deactivated int    `json:"deactivated"`
	Duplicates  int    `json:"duplicates"`
	Stale       int    `json:"stale"`
	Duration    string `json:"duration"`
}

func toTick(r autotransfer.TickReport) tickResponse {
	return tickResponse{
		Due:         r.Due,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Deactivated: r.Deactivated,
		Duplicates:  r.Duplicates,
		Stale:       r.Stale,
		Duration:    r.Duration.String(),
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

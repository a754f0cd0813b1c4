package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ledger/pkg/account"
	"ledger/pkg/autotransfer"
	"ledger/pkg/ledger"
	"ledger/pkg/money"
	"ledger/pkg/schedule"

	"github.com/gorilla/mux"
)

// IdempotencyKeyHeader carries the client's key for POST /transfers
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 500
)

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id", errBadRequest)
	}
	return id, nil
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	acc, err := s.ledger.CreateAccount(r.Context(), ledger.CreateAccountRequest{
		OwnerID:        req.OwnerID,
		Type:           account.Type(strings.ToUpper(req.Type)),
		InitialDeposit: req.InitialDeposit,
		AutoTransfer:   req.AutoTransfer,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccount(acc))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.ledger.Account(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleGetAccountByNumber(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.AccountByNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.ledger.Withdraw)
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id int64, amount money.Money) (*account.Account, error)) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := apply(r.Context(), id, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.ledger.Close(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := defaultEntryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit", errBadRequest))
			return
		}
		limit = min(limit, maxEntryLimit)
	}

	entries, err := s.ledger.Entries(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntries(entries))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var opts []ledger.TransferOption
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		opts = append(opts, ledger.WithIdempotencyKey(key))
	}

	res, err := s.ledger.Transfer(r.Context(), req.From, req.To, req.Amount, req.Memo, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, transferResponse{
		TransferID: res.ID,
		From:       toAccount(res.From),
		To:         toAccount(res.To),
	})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rt, err := schedule.ParseRunTime(req.RunTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sc, err := s.registry.Create(r.Context(), autotransfer.CreateScheduleRequest{
		OwnerID:                  req.OwnerID,
		SourceAccountNumber:      req.Source,
		DestinationAccountNumber: req.Destination,
		Amount:                   req.Amount,
		DayOfMonth:               req.DayOfMonth,
		RunTime:                  rt,
		MaxRetries:               req.MaxRetries,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSchedule(sc))
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchedule(sc))
}

func (s *Server) handleDeactivateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req deactivateScheduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.registry.Deactivate(r.Context(), id, req.OwnerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchedule(sc))
}

// handleRunSchedules runs one executor tick on demand
func (s *Server) handleRunSchedules(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{
			Code:    "EXECUTOR_DISABLED",
			Message: "auto-transfer executor is not running in this process",
		}})
		return
	}
	report, err := s.executor.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTick(report))
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ledger/pkg/autotransfer"
	"ledger/pkg/ledger"
	"ledger/pkg/money"
	"ledger/pkg/resilience"
	"ledger/pkg/schedule"

	"go.uber.org/zap"
)

var errBadRequest = errors.New("api: malformed request")

// statusFor maps an error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, money.ErrInvalidAmount):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, schedule.ErrInvalidDayOfMonth):
		return http.StatusBadRequest, "INVALID_DAY_OF_MONTH"
	case errors.Is(err, schedule.ErrInvalidRunTime):
		return http.StatusBadRequest, "INVALID_RUN_TIME"
	case errors.Is(err, schedule.ErrInvalidMaxRetries):
		return http.StatusBadRequest, "INVALID_MAX_RETRIES"
	case errors.Is(err, autotransfer.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER"
	case errors.Is(err, autotransfer.ErrScheduleNotFound):
		return http.StatusNotFound, "SCHEDULE_NOT_FOUND"
	case errors.Is(err, autotransfer.ErrTickInProgress):
		return http.StatusConflict, "TICK_IN_PROGRESS"
	case errors.Is(err, autotransfer.ErrLockHeld):
		return http.StatusConflict, "LOCK_HELD"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}

	code := ledger.Code(err)
	switch ledger.CategoryOf(err) {
	case ledger.CategoryValidation:
		return http.StatusBadRequest, code
	case ledger.CategoryState:
		return http.StatusUnprocessableEntity, code
	case ledger.CategoryNotFound:
		return http.StatusNotFound, code
	case ledger.CategoryConflict:
		return http.StatusConflict, code
	case ledger.CategoryExhausted:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, code
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

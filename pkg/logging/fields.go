package logging

import (
	"strings"

	"go.uber.org/zap"
)

// AccountNumber logs an account number with its middle group masked.
// Full numbers are never written to logs.
func AccountNumber(number string) zap.Field {
	return zap.String("account_number", MaskAccountNumber(number))
}

// MaskAccountNumber keeps the bank code and the last four digits.
//
//	123-4567-1234567 -> 123-****-***4567
func MaskAccountNumber(number string) string {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || len(parts[2]) < 4 {
		return strings.Repeat("*", len(number))
	}
	tail := parts[2]
	return parts[0] + "-" + strings.Repeat("*", len(parts[1])) + "-" +
		strings.Repeat("*", len(tail)-4) + tail[len(tail)-4:]
}

// AccountID logs an internal account identifier
func AccountID(id int64) zap.Field {
	return zap.Int64("account_id", id)
}

// ScheduleID logs an auto-transfer schedule identifier
func ScheduleID(id int64) zap.Field {
	return zap.Int64("schedule_id", id)
}

// Operation names the ledger operation being logged
func Operation(op string) zap.Field {
	return zap.String("operation", op)
}

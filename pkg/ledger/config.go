package ledger

import (
	"time"

	"ledger/pkg/account"
)

// Config tunes retry behaviour and account policy
type Config struct {
	// InsertRetries bounds how often account creation regenerates a number
	// after a unique-constraint collision
	InsertRetries int
	// ConflictRetries bounds re-runs of a mutation after an optimistic
	// version conflict. The operation runs at most 1+ConflictRetries times.
	ConflictRetries int
	// RetryBaseDelay and RetryMaxDelay shape the jittered backoff between
	// conflict retries
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Policies       account.PolicyTable
}

// DefaultConfig returns three insert retries, three conflict retries and the
// default policy table
func DefaultConfig() Config {
	return Config{
		InsertRetries:   3,
		ConflictRetries: 3,
		RetryBaseDelay:  5 * time.Millisecond,
		RetryMaxDelay:   100 * time.Millisecond,
		Policies:        account.DefaultPolicies(),
	}
}

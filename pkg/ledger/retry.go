package ledger

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"ledger/pkg/logging"
	"ledger/pkg/storage"
)

// withRetry runs fn in a transaction and re-runs it on version conflicts,
// sleeping a jittered, exponentially growing delay between attempts.
func (s *Service) withRetry(ctx context.Context, op string, fn storage.TxFunc) error {
	var err error
	for attempt := 0; attempt <= s.config.ConflictRetries; attempt++ {
		if attempt > 0 {
			s.metrics.RecordConflictRetry(op)
			if serr := sleep(ctx, s.backoff(attempt)); serr != nil {
				return serr
			}
		}

		err = s.store.WithinTx(ctx, fn)
		if !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		s.logger.Debug("version conflict, retrying",
			logging.Operation(op),
			zap.Int("attempt", attempt+1),
		)
	}

	s.logger.Warn("conflict retries exhausted",
		logging.Operation(op),
		zap.Int("retries", s.config.ConflictRetries),
	)
	return ErrOptimisticConflict
}

// backoff returns a full-jitter delay: uniform in [0, min(max, base*2^attempt)).
func (s *Service) backoff(attempt int) time.Duration {
	base := s.config.RetryBaseDelay
	if base <= 0 {
		return 0
	}
	ceiling := base << uint(attempt)
	if s.config.RetryMaxDelay > 0 && (ceiling > s.config.RetryMaxDelay || ceiling <= 0) {
		ceiling = s.config.RetryMaxDelay
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

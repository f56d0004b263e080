package grid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/jtcave/gridmii/internal/chat"
)

// BrokerError wraps a publish failure with the topic it was headed to.
// Broker errors are never retried here; per the error-handling policy
// they surface as a user-visible edit instead.
type BrokerError struct {
	Topic string
	Err   error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error on %s: %v", e.Topic, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// Retry runs fn with exponential backoff for temporary errors.
func Retry[T any](ctx context.Context, logger *zap.Logger, maxAttempts int, initialBackoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var result T
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}

		if IsTemporaryError(err) {
			logger.Warn("temporary error, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err),
				zap.Duration("backoff", backoff))
			if attempt < maxAttempts {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return result, ctx.Err()
				}
				backoff *= 2
				continue
			}
		}

		logger.Error("permanent error, aborting",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return result, err
	}

	return result, fmt.Errorf("failed after %d attempts", maxAttempts)
}

// IsTemporaryError reports whether err is worth retrying: a network
// timeout, a rate limit, or a server-side error.
func IsTemporaryError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var he *chat.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == 429 || (he.StatusCode >= 500 && he.StatusCode < 600)
	}
	return false
}

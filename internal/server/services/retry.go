package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/sethvargo/go-retry"
)

// retry runs fn up to retryAttempts times with capped exponential backoff.
// Only errors wrapping common.ErrBackendUnavailable are retried; anything
// else, and the last backend error, is returned unchanged.
func (s *AuthService) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(s.retryBase)
	b = retry.WithCappedDuration(s.retryMax, b)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(uint64(s.retryAttempts-1), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !errors.Is(err, common.ErrBackendUnavailable) {
			return err
		}
		if attempt < s.retryAttempts {
			s.log.Warn(ctx, "backend unavailable, retrying", "op", op, "attempt", attempt, "error", err)
		}
		return retry.RetryableError(err)
	})
}

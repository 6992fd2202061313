package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devconnect/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

var ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

// Retry runs fn until it succeeds, returns a non-retryable error, or attempts run out.
func Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		logger.Warn("mongo operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrMaxRetriesExceeded, lastErr)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// IsRetryable reports transient driver failures. Context errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

// IsUnavailable reports errors that mean the database cannot be reached at all.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrMaxRetriesExceeded) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsTimeout(err) ||
		mongo.IsNetworkError(err)
}

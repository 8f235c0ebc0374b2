// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/plansight/core"
)

// MaxRetryDelay caps the exponential backoff between attempts.
const MaxRetryDelay = 30 * time.Second

// Retryable reports whether another attempt can succeed after err.
// Validation failures, malformed embeddings and cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, core.ErrValidation), errors.Is(err, ErrMalformedEmbedding):
		return false
	}
	return true
}

// RetryWithBackoff calls operation up to maxAttempts times, doubling
// baseDelay after each failure up to MaxRetryDelay. It stops early on an
// error that is not Retryable and returns the last error.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("embedding succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !Retryable(lastErr) || attempt == maxAttempts {
			break
		}

		delay := backoff(baseDelay, attempt)
		slog.Debug("embedding failed, retrying", "attempt", attempt, "max_attempts", maxAttempts,
			"delay", delay, "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// backoff returns baseDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay
	for i := 1; i < attempt && delay < MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, MaxRetryDelay)
}

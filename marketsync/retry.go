package marketsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// apiStatusError is a non-2xx response from the settlement API.
type apiStatusError struct {
	StatusCode int
	Body       string
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("settlement api error %d: %s", e.StatusCode, e.Body)
}

// isRetryable reports whether an error is worth another attempt: timeouts,
// 5xx, and 401 (credentials may lag after rotation). Everything else fails
// immediately.
func isRetryable(err error) bool {
	var statusErr *apiStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= http.StatusInternalServerError {
			return true
		}
		return statusErr.StatusCode == http.StatusUnauthorized
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// retryPolicy wraps one external call in bounded retries with linear backoff
// (backoff x attempt). sleep is injectable for tests.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	sleep       func(time.Duration)
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: 3,
		backoff:     time.Second,
		sleep:       time.Sleep,
	}
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt < p.maxAttempts {
			p.sleep(p.backoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, p.maxAttempts, lastErr)
}

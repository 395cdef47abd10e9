package httpcache

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// maxRetryAfter caps how long a server may ask us to wait between attempts.
const maxRetryAfter = 2 * time.Minute

// RetryableError marks a failure that is worth another attempt. After is
// the wait the server asked for, zero if it did not say.
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retry calls fn up to attempts times. Errors not wrapped in
// [RetryableError] end the loop at once. Between attempts it waits for
// delay, doubling each time, or for the server's Retry-After when that is
// longer. Every retried failure is logged to logger.
func Retry(ctx context.Context, logger *log.Logger, attempts int, delay time.Duration, fn func() error) error {
	if logger == nil {
		logger = log.Default()
	}
	attempts = max(attempts, 1)

	var lastErr error
	for i := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var re *RetryableError
		if !errors.As(err, &re) {
			return err
		}
		if i == attempts-1 {
			break
		}

		wait := max(delay, re.After)
		logger.Warn("attempt failed, retrying", "attempt", i+1, "attempts", attempts, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			delay *= 2
		}
	}
	return lastErr
}

// retryAfter parses a Retry-After header given either in seconds or as an
// HTTP date. Unparseable or past values yield zero.
func retryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		d = at.Sub(now)
	}
	return min(max(d, 0), maxRetryAfter)
}

// Package retry implements bounded retries with exponential backoff and
// jitter, used for calls out to verification providers and payment rails.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error as not worth retrying, e.g. a provider
// rejecting the request as malformed.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it immediately instead of
// burning the remaining attempts.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times, sleeping between attempts with
// exponential backoff jittered by +-25%. It returns early when fn
// succeeds, when fn returns a *PermanentError, or when ctx is cancelled
// during a backoff sleep.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
	}

	return err
}

// jittered spreads d over [0.75d, 1.25d] so concurrent retries against
// the same provider do not synchronize.
func jittered(d time.Duration) time.Duration {
	spread := d / 4
	return d - spread + time.Duration(cryptoInt64n(int64(2*spread+1)))
}

// cryptoInt64n returns a random int64 in [0, n).
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0, v%n < n, safe
}

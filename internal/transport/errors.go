package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Error taxonomy for send operations:
//
//   - RateLimitedError: platform backpressure with a suggested wait. Callers
//     must wait at least the hint before retrying.
//   - TransientError: timeout/network failure, safe to retry after a short
//     fixed wait.
//   - anything else: permanent; retrying would loop forever (e.g. the source
//     message no longer exists, or the bot lacks permission).

type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

type Class int

const (
	ClassPermanent Class = iota
	ClassRateLimited
	ClassTransient
)

func Classify(err error) Class {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return ClassTransient
	}
	return ClassPermanent
}

var retryHintRe = regexp.MustCompile(`[Rr]etry (?:in|after) (\d+)`)

// ParseRetryHint extracts a wait duration from an error message of the form
// "... Retry in 17 ..." as emitted by the platform's flood control. Falls back
// to the given default when the message carries no machine-readable wait.
func ParseRetryHint(msg string, fallback time.Duration) time.Duration {
	m := retryHintRe.FindStringSubmatch(msg)
	if len(m) != 2 {
		return fallback
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

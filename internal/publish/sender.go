package publish

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

const (
	// maxAttempts bounds the worst-case stall per item per destination.
	maxAttempts = 5
	// transientWait is the fixed backoff for timeouts and network failures.
	transientWait = 3 * time.Second
)

// SendFunc performs exactly one platform call.
type SendFunc func(ctx context.Context) (transport.MessageRef, error)

// Sender wraps a single platform send with bounded retries on recoverable
// error classes and fails fast on permanent ones.
//
// Recoverable backpressure waits exactly as told (hint + 1s); transient
// failures wait a fixed short interval. After maxAttempts total attempts the
// item is given up regardless of error class.
type Sender struct {
	pace *rate.Limiter // per-chat pacing between successful sends
	log  logx.Logger

	// sleep is injectable for tests. Returns false if the context died.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewSender(pause time.Duration, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{log: log, sleep: sleepCtx}
	s.SetPause(pause)
	return s
}

// SetPause swaps the pacing interval (config reload).
func (s *Sender) SetPause(pause time.Duration) {
	if pause <= 0 {
		s.pace = nil
		return
	}
	s.pace = rate.NewLimiter(rate.Every(pause), 1)
}

// Send runs op with the retry state machine. It reports only the final
// outcome; rate-limit and transient classes are absorbed here.
func (s *Sender) Send(ctx context.Context, op SendFunc) (transport.MessageRef, bool) {
	attempts := 0
	for {
		ref, err := op(ctx)
		if err == nil {
			// Pace the next send to stay under the per-chat rate limit.
			if s.pace != nil {
				_ = s.pace.Wait(ctx)
			}
			return ref, true
		}
		attempts++

		var wait time.Duration
		switch transport.Classify(err) {
		case transport.ClassRateLimited:
			var rl *transport.RateLimitedError
			if errors.As(err, &rl) {
				wait = rl.RetryAfter + time.Second
			} else {
				wait = transientWait
			}
			s.log.Warn("rate limited, backing off", logx.Duration("wait", wait), logx.Int("attempt", attempts))
		case transport.ClassTransient:
			wait = transientWait
			s.log.Warn("transient send error, retrying", logx.Duration("wait", wait), logx.Int("attempt", attempts), logx.Err(err))
		default:
			s.log.Error("permanent send error, giving up", logx.Err(err))
			return transport.MessageRef{}, false
		}

		if attempts >= maxAttempts {
			s.log.Error("too many retries, abandoning item", logx.Int("attempts", attempts))
			return transport.MessageRef{}, false
		}
		if !s.sleep(ctx, wait) {
			return transport.MessageRef{}, false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

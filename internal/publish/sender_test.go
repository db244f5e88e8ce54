package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

// testSender returns a sender whose backoff sleeps are recorded instead of slept.
func testSender() (*Sender, *[]time.Duration) {
	s := NewSender(0, logx.Nop())
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) bool {
		slept = append(slept, d)
		return true
	}
	return s, &slept
}

func TestSendSuccessFirstTry(t *testing.T) {
	t.Parallel()
	s, slept := testSender()
	calls := 0
	ref, ok := s.Send(context.Background(), func(ctx context.Context) (transport.MessageRef, error) {
		calls++
		return transport.MessageRef{ChatID: 1, MessageID: 42}, nil
	})
	if !ok || ref.MessageID != 42 || calls != 1 {
		t.Fatalf("ok=%v ref=%+v calls=%d", ok, ref, calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", *slept)
	}
}

func TestSendTransientRetriesExactlyFiveAttempts(t *testing.T) {
	t.Parallel()
	s, slept := testSender()
	calls := 0
	_, ok := s.Send(context.Background(), func(ctx context.Context) (transport.MessageRef, error) {
		calls++
		return transport.MessageRef{}, &transport.TransientError{Err: errors.New("timeout")}
	})
	if ok {
		t.Fatal("expected failure")
	}
	if calls != maxAttempts {
		t.Fatalf("attempts = %d, want %d", calls, maxAttempts)
	}
	// The final attempt fails without another sleep.
	if len(*slept) != maxAttempts-1 {
		t.Fatalf("sleeps = %v", *slept)
	}
	for _, d := range *slept {
		if d != transientWait {
			t.Fatalf("transient wait = %v, want %v", d, transientWait)
		}
	}
}

func TestSendRateLimitWaitsHintPlusOne(t *testing.T) {
	t.Parallel()
	s, slept := testSender()
	calls := 0
	ref, ok := s.Send(context.Background(), func(ctx context.Context) (transport.MessageRef, error) {
		calls++
		if calls == 1 {
			return transport.MessageRef{}, &transport.RateLimitedError{RetryAfter: 7 * time.Second, Err: errors.New("429")}
		}
		return transport.MessageRef{MessageID: 1}, nil
	})
	if !ok || ref.MessageID != 1 {
		t.Fatalf("ok=%v ref=%+v", ok, ref)
	}
	if len(*slept) != 1 || (*slept)[0] != 8*time.Second {
		t.Fatalf("sleeps = %v, want [8s]", *slept)
	}
}

func TestSendPermanentFailsFast(t *testing.T) {
	t.Parallel()
	s, slept := testSender()
	calls := 0
	_, ok := s.Send(context.Background(), func(ctx context.Context) (transport.MessageRef, error) {
		calls++
		return transport.MessageRef{}, errors.New("message to copy not found")
	})
	if ok || calls != 1 {
		t.Fatalf("ok=%v calls=%d, want single failed attempt", ok, calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("permanent error slept: %v", *slept)
	}
}

func TestSendStopsWhenContextDies(t *testing.T) {
	t.Parallel()
	s := NewSender(0, logx.Nop())
	s.sleep = func(ctx context.Context, d time.Duration) bool { return false }
	calls := 0
	_, ok := s.Send(context.Background(), func(ctx context.Context) (transport.MessageRef, error) {
		calls++
		return transport.MessageRef{}, &transport.TransientError{Err: errors.New("net")}
	})
	if ok || calls != 1 {
		t.Fatalf("ok=%v calls=%d, want abort after first failed sleep", ok, calls)
	}
}

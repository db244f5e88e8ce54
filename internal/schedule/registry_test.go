package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"draftbot/pkg/logx"
)

func TestScheduleClaimsAreExclusive(t *testing.T) {
	t.Parallel()
	r := NewRegistry(func(ctx context.Context, ids []int) {}, logx.Nop())
	defer r.Stop()

	far := time.Now().Add(time.Hour)
	id1, err := r.Schedule(far, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !r.Locked(2) || r.Locked(4) {
		t.Fatal("claim set wrong after first schedule")
	}
	if _, err := r.Schedule(far, []int{3, 4}); err == nil {
		t.Fatal("overlapping selection must be rejected")
	}
	// The rejected job must not leave partial claims behind.
	if r.Locked(4) {
		t.Fatal("rejected schedule leaked a claim")
	}
	if !r.Cancel(id1) {
		t.Fatal("cancel returned false for a pending job")
	}
	if r.Locked(2) {
		t.Fatal("cancel did not release claims")
	}
	if _, err := r.Schedule(far, []int{3, 4}); err != nil {
		t.Fatalf("reschedule after cancel: %v", err)
	}
}

func TestScheduleRejectsEmptySelection(t *testing.T) {
	t.Parallel()
	r := NewRegistry(func(ctx context.Context, ids []int) {}, logx.Nop())
	defer r.Stop()
	if _, err := r.Schedule(time.Now(), nil); err == nil {
		t.Fatal("empty selection must be rejected")
	}
}

func TestPastDueJobFiresAndReleasesClaims(t *testing.T) {
	t.Parallel()
	done := make(chan []int, 1)
	r := NewRegistry(func(ctx context.Context, ids []int) { done <- ids }, logx.Nop())
	defer r.Stop()

	id, err := r.Schedule(time.Now().Add(-time.Minute), []int{5, 6})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case ids := <-done:
		if len(ids) != 2 || ids[0] != 5 || ids[1] != 6 {
			t.Fatalf("fired with %v", ids)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("past-due job never fired")
	}
	// Release happens after the runner returns; give the deferred unlock a beat.
	deadline := time.Now().Add(time.Second)
	for r.Locked(5) || r.Locked(6) {
		if time.Now().After(deadline) {
			t.Fatal("claims not released after firing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r.Cancel(id) {
		t.Fatal("cancelling a fired job must report false")
	}
	if len(r.List()) != 0 {
		t.Fatalf("fired job still listed: %+v", r.List())
	}
}

func TestClaimsHeldWhileRunnerExecutes(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	finish := make(chan struct{})
	r := NewRegistry(func(ctx context.Context, ids []int) {
		close(started)
		<-finish
	}, logx.Nop())
	defer r.Stop()

	if _, err := r.Schedule(time.Now(), []int{9}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-started
	if !r.Locked(9) {
		t.Fatal("claim released before the runner finished")
	}
	if len(r.List()) != 0 {
		t.Fatal("firing job must leave the pending list immediately")
	}
	close(finish)
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	fired := 0
	r := NewRegistry(func(ctx context.Context, ids []int) {
		mu.Lock()
		fired++
		mu.Unlock()
	}, logx.Nop())

	far := time.Now().Add(time.Hour)
	if _, err := r.Schedule(far, []int{1}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := r.Schedule(far, []int{2}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n := r.CancelAll(); n != 2 {
		t.Fatalf("cancelled %d, want 2", n)
	}
	if r.Locked(1) || r.Locked(2) || len(r.List()) != 0 {
		t.Fatal("registry not empty after CancelAll")
	}
	r.Stop()
	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Fatalf("cancelled jobs fired %d times", fired)
	}
}

func TestListOrderAndETA(t *testing.T) {
	t.Parallel()
	r := NewRegistry(func(ctx context.Context, ids []int) {}, logx.Nop())
	defer r.Stop()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	if _, err := r.Schedule(base.Add(90*time.Minute), []int{1}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := r.Schedule(base.Add(10*time.Minute), []int{2}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	jobs := r.List()
	if len(jobs) != 2 || jobs[0].ID >= jobs[1].ID {
		t.Fatalf("list = %+v", jobs)
	}
	if jobs[0].ETA != "en 1 h 30 m" || jobs[1].ETA != "en 10 min" {
		t.Fatalf("etas = %q, %q", jobs[0].ETA, jobs[1].ETA)
	}
}

func TestHumanETA(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{-time.Minute, "en 0 min"},
		{30 * time.Second, "en 0 min"},
		{5 * time.Minute, "en 5 min"},
		{59 * time.Minute, "en 59 min"},
		{60 * time.Minute, "en 1 h"},
		{90 * time.Minute, "en 1 h 30 m"},
		{24 * time.Hour, "en 1 d"},
		{26 * time.Hour, "en 1 d 2 h"},
		{48 * time.Hour, "en 2 d"},
	}
	for _, tc := range cases {
		if got := HumanETA(tc.d); got != tc.want {
			t.Errorf("HumanETA(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

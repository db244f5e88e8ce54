// Package schedule keeps the in-memory registry of pending one-shot publish
// jobs and the claim set that shields their draft ids from immediate passes.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"draftbot/pkg/logx"
)

// Runner executes a fired job with the draft ids it claimed.
type Runner func(ctx context.Context, ids []int)

// JobInfo is a read-only snapshot of one pending job.
type JobInfo struct {
	ID   int
	When time.Time
	IDs  []int
	ETA  string
}

type job struct {
	id    int
	when  time.Time
	ids   []int
	timer *time.Timer
}

// Registry owns pending jobs and their draft claims. A claimed id belongs to
// exactly one job; the claim is released when the job fires, is cancelled, or
// the registry stops.
type Registry struct {
	mu      sync.Mutex
	seq     int
	jobs    map[int]*job
	claimed map[int]int // draft id -> owning job id
	runner  Runner
	now     func() time.Time
	log     logx.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func NewRegistry(runner Runner, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		jobs:    make(map[int]*job),
		claimed: make(map[int]int),
		runner:  runner,
		now:     time.Now,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers a one-shot job firing at when. Every id must be free;
// a single already-claimed id rejects the whole job.
func (r *Registry) Schedule(when time.Time, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("schedule: empty selection")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return 0, fmt.Errorf("schedule: registry stopped")
	}
	for _, id := range ids {
		if owner, ok := r.claimed[id]; ok {
			return 0, fmt.Errorf("schedule: draft %d already claimed by job %d", id, owner)
		}
	}

	r.seq++
	j := &job{id: r.seq, when: when, ids: append([]int(nil), ids...)}
	for _, id := range j.ids {
		r.claimed[id] = j.id
	}
	delay := when.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	r.wg.Add(1)
	j.timer = time.AfterFunc(delay, func() { r.fire(j.id) })
	r.jobs[j.id] = j
	r.log.Info("job scheduled", logx.Int("job", j.id), logx.Time("when", when), logx.Int("drafts", len(j.ids)))
	return j.id, nil
}

// fire runs in the timer goroutine. The job leaves the listing before the
// runner starts, but its claims stay held until the runner returns, so an
// immediate publish racing the firing still skips these ids. Claims are
// released exactly once, in the deferred release.
func (r *Registry) fire(id int) {
	defer r.wg.Done()
	r.mu.Lock()
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	stopped := r.stopped
	r.mu.Unlock()
	if !ok || stopped {
		return
	}
	defer r.release(j.ids)

	r.log.Info("job fired", logx.Int("job", j.id), logx.Int("drafts", len(j.ids)))
	r.runner(r.ctx, j.ids)
}

func (r *Registry) release(ids []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.claimed, id)
	}
}

// Cancel removes a pending job and frees its claims. Cancelling a job that
// already fired (or never existed) reports false.
func (r *Registry) Cancel(id int) bool {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
		for _, did := range j.ids {
			delete(r.claimed, did)
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if j.timer.Stop() {
		r.wg.Done()
	}
	r.log.Info("job cancelled", logx.Int("job", id))
	return true
}

// CancelAll drops every pending job and returns how many were dropped.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.jobs = make(map[int]*job)
	r.claimed = make(map[int]int)
	r.mu.Unlock()
	for _, j := range jobs {
		if j.timer.Stop() {
			r.wg.Done()
		}
	}
	return len(jobs)
}

// Locked reports whether a draft id is claimed by some pending or firing job.
func (r *Registry) Locked(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.claimed[id]
	return ok
}

// List snapshots pending jobs ordered by job id.
func (r *Registry) List() []JobInfo {
	r.mu.Lock()
	now := r.now()
	out := make([]JobInfo, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, JobInfo{
			ID:   j.id,
			When: j.when,
			IDs:  append([]int(nil), j.ids...),
			ETA:  HumanETA(j.when.Sub(now)),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Stop cancels every pending job and waits for in-flight runners to finish.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.jobs = make(map[int]*job)
	r.claimed = make(map[int]int)
	r.mu.Unlock()
	for _, j := range jobs {
		if j.timer.Stop() {
			r.wg.Done()
		}
	}
	r.cancel()
	r.wg.Wait()
}

// HumanETA renders a countdown the way the panel shows it.
func HumanETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d.Minutes())
	switch {
	case mins < 60:
		return fmt.Sprintf("en %d min", mins)
	case mins < 24*60:
		if m := mins % 60; m > 0 {
			return fmt.Sprintf("en %d h %d m", mins/60, m)
		}
		return fmt.Sprintf("en %d h", mins/60)
	default:
		days := mins / (24 * 60)
		if h := (mins % (24 * 60)) / 60; h > 0 {
			return fmt.Sprintf("en %d d %d h", days, h)
		}
		return fmt.Sprintf("en %d d", days)
	}
}

// Package tracker is the single source of truth for running and finished
// compression jobs. One Tracker is built by the process root and shared by
// reference with every job.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/video"
)

var ErrUnknownJob = errors.New("unknown or released job")

// Job is what a caller registers to claim a slot.
type Job struct {
	ID        string
	UserID    int64
	Platform  string
	Source    video.Metadata
	Target    video.Target
	StartedAt time.Time
}

// Handle is the caller's claim on a slot. Releasing it twice is harmless.
type Handle struct {
	id string
}

func (h *Handle) ID() string { return h.id }

// Sink receives every finished job record, e.g. the stats store.
type Sink interface {
	Record(ctx context.Context, rec video.JobRecord) error
}

// Final is what the engine reports when a job reaches a terminal state.
type Final struct {
	Outcome    video.Outcome
	Cause      video.AbortCause
	FinalBytes int64
}

type entry struct {
	job      Job
	attempts []video.Attempt
}

type Tracker struct {
	mu         sync.Mutex
	ceiling    int
	active     map[string]*entry
	history    []video.JobRecord
	historyCap int
	snapshot   *metrics.Snapshot
	sinks      []Sink
	encodes    *semaphore.Weighted
	now        func() time.Time
}

type Option func(*Tracker)

func WithHistorySize(n int) Option { return func(t *Tracker) { t.historyCap = n } }

func WithSink(s Sink) Option { return func(t *Tracker) { t.sinks = append(t.sinks, s) } }

// WithEncodeSlots bounds how many encoder processes run at once across all
// jobs. Defaults to the job ceiling.
func WithEncodeSlots(n int) Option {
	return func(t *Tracker) { t.encodes = semaphore.NewWeighted(int64(n)) }
}

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func New(ceiling int, opts ...Option) *Tracker {
	if ceiling < 1 {
		ceiling = 1
	}
	t := &Tracker{
		ceiling:    ceiling,
		active:     make(map[string]*entry),
		historyCap: 1000,
		now:        time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.encodes == nil {
		t.encodes = semaphore.NewWeighted(int64(ceiling))
	}
	return t
}

// AddSink attaches a sink after construction, for sinks that themselves
// need the tracker.
func (t *Tracker) AddSink(s Sink) {
	t.mu.Lock()
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

// Register claims a slot or fails immediately with ErrCapacityExceeded.
// The check and the claim happen under one lock.
func (t *Tracker) Register(job Job) (*Handle, error) {
	if job.ID == "" {
		return nil, errors.New("register: empty job id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.active[job.ID]; dup {
		return nil, fmt.Errorf("register %s: already active", job.ID)
	}
	if len(t.active) >= t.ceiling {
		return nil, fmt.Errorf("register %s: %d/%d active: %w", job.ID, len(t.active), t.ceiling, video.ErrCapacityExceeded)
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = t.now()
	}
	t.active[job.ID] = &entry{job: job}
	return &Handle{id: job.ID}, nil
}

// Release frees the slot. Safe to call any number of times.
func (t *Tracker) Release(h *Handle) {
	if h == nil {
		return
	}
	t.mu.Lock()
	delete(t.active, h.id)
	t.mu.Unlock()
}

// RecordAttempt appends a finalized attempt to the job's history.
func (t *Tracker) RecordAttempt(h *Handle, a video.Attempt) error {
	if h == nil {
		return ErrUnknownJob
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[h.id]
	if !ok {
		return ErrUnknownJob
	}
	e.attempts = append(e.attempts, a)
	return nil
}

// Attempts returns a copy of the attempts recorded so far.
func (t *Tracker) Attempts(h *Handle) []video.Attempt {
	if h == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[h.id]
	if !ok {
		return nil
	}
	return append([]video.Attempt(nil), e.attempts...)
}

// Finish moves the job to history, releases its slot and notifies sinks.
// Only the first call for a handle produces a record.
func (t *Tracker) Finish(ctx context.Context, h *Handle, f Final) (video.JobRecord, bool) {
	if h == nil {
		return video.JobRecord{}, false
	}
	t.mu.Lock()
	e, ok := t.active[h.id]
	if !ok {
		t.mu.Unlock()
		return video.JobRecord{}, false
	}
	delete(t.active, h.id)
	finished := t.now()
	rec := video.JobRecord{
		ID:          e.job.ID,
		UserID:      e.job.UserID,
		Platform:    e.job.Platform,
		Source:      e.job.Source,
		Attempts:    e.attempts,
		Outcome:     f.Outcome,
		AbortCause:  f.Cause,
		FinalBytes:  f.FinalBytes,
		StartedAt:   e.job.StartedAt,
		FinishedAt:  finished,
		ProcessTime: finished.Sub(e.job.StartedAt),
	}
	t.appendHistory(rec)
	sinks := t.sinks
	t.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Str("job", rec.ID).Msg("history sink failed")
		}
	}
	return rec, true
}

// Observe adds a record for a job that never held a slot (e.g. rejected
// for capacity or not needing compression) so stats still see it.
func (t *Tracker) Observe(ctx context.Context, rec video.JobRecord) {
	t.mu.Lock()
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = t.now()
	}
	t.appendHistory(rec)
	sinks := t.sinks
	t.mu.Unlock()
	for _, s := range sinks {
		if err := s.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Str("job", rec.ID).Msg("history sink failed")
		}
	}
}

func (t *Tracker) appendHistory(rec video.JobRecord) {
	t.history = append(t.history, rec)
	if over := len(t.history) - t.historyCap; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
}

func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Tracker) Ceiling() int { return t.ceiling }

// History returns finished jobs, oldest first.
func (t *Tracker) History() []video.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]video.JobRecord(nil), t.history...)
}

// AcquireEncode blocks until an encoder slot is free or ctx is done.
func (t *Tracker) AcquireEncode(ctx context.Context) error {
	return t.encodes.Acquire(ctx, 1)
}

func (t *Tracker) ReleaseEncode() { t.encodes.Release(1) }

// RecordSnapshot stores the latest system snapshot from the monitor loop.
func (t *Tracker) RecordSnapshot(s metrics.Snapshot) {
	t.mu.Lock()
	t.snapshot = &s
	t.mu.Unlock()
}

func (t *Tracker) LastSnapshot() (metrics.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return metrics.Snapshot{}, false
	}
	return *t.snapshot, true
}

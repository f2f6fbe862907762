package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wapuda/clipsaver/internal/video"
)

type recordingSink struct {
	mu   sync.Mutex
	recs []video.JobRecord
}

func (s *recordingSink) Record(_ context.Context, rec video.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func TestRegisterFailsFastAtCeiling(t *testing.T) {
	tr := New(2)
	h1, err := tr.Register(Job{ID: "a"})
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := tr.Register(Job{ID: "b"}); err != nil {
		t.Fatalf("register b: %v", err)
	}
	_, err = tr.Register(Job{ID: "c"})
	if !errors.Is(err, video.ErrCapacityExceeded) {
		t.Fatalf("third register err = %v, want ErrCapacityExceeded", err)
	}
	tr.Release(h1)
	if _, err := tr.Register(Job{ID: "c"}); err != nil {
		t.Fatalf("register after release: %v", err)
	}
}

func TestRegisterRejectsDuplicateAndEmpty(t *testing.T) {
	tr := New(3)
	if _, err := tr.Register(Job{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := tr.Register(Job{ID: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tr.Register(Job{ID: "x"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestConcurrentRegisterNeverExceedsCeiling(t *testing.T) {
	const ceiling, workers = 3, 64
	tr := New(ceiling)

	var (
		wg       sync.WaitGroup
		holding  atomic.Int32
		peak     atomic.Int32
		rejected atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := tr.Register(Job{ID: fmt.Sprintf("job-%d", i)})
			if err != nil {
				rejected.Add(1)
				return
			}
			n := holding.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holding.Add(-1)
			tr.Release(h)
		}(i)
	}
	close(start)
	wg.Wait()

	if p := peak.Load(); p > ceiling {
		t.Fatalf("peak concurrent holders = %d, ceiling %d", p, ceiling)
	}
	if rejected.Load() == 0 {
		t.Fatalf("expected some registrations to be rejected")
	}
	if tr.ActiveCount() != 0 {
		t.Fatalf("active = %d after all released", tr.ActiveCount())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	tr := New(1)
	h, _ := tr.Register(Job{ID: "a"})
	tr.Release(h)
	tr.Release(h)
	tr.Release(nil)
	if tr.ActiveCount() != 0 {
		t.Fatalf("active = %d", tr.ActiveCount())
	}
	// A second release must not free someone else's slot.
	h2, err := tr.Register(Job{ID: "b"})
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	tr.Release(h)
	if tr.ActiveCount() != 1 {
		t.Fatalf("stale release freed another job's slot")
	}
	tr.Release(h2)
}

func TestFinishRecordsHistoryOnceAndNotifiesSink(t *testing.T) {
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	tr := New(2, WithSink(sink), WithClock(func() time.Time { return clock }))

	h, err := tr.Register(Job{ID: "j1", UserID: 7, Platform: "TikTok", Source: video.Metadata{SizeBytes: 100}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := tr.RecordAttempt(h, video.Attempt{Index: 1, Status: video.AttemptTooLarge, SizeBytes: 80}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if got := tr.Attempts(h); len(got) != 1 {
		t.Fatalf("attempts = %d", len(got))
	}

	clock = clock.Add(3 * time.Second)
	rec, ok := tr.Finish(context.Background(), h, Final{Outcome: video.OutcomeExhausted})
	if !ok {
		t.Fatalf("first finish should produce a record")
	}
	if rec.ProcessTime != 3*time.Second || len(rec.Attempts) != 1 || rec.UserID != 7 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, ok := tr.Finish(context.Background(), h, Final{Outcome: video.OutcomeSucceeded}); ok {
		t.Fatalf("second finish should be a no-op")
	}
	if err := tr.RecordAttempt(h, video.Attempt{}); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("record after finish err = %v", err)
	}
	if len(tr.History()) != 1 || len(sink.recs) != 1 {
		t.Fatalf("history=%d sink=%d", len(tr.History()), len(sink.recs))
	}
	if tr.ActiveCount() != 0 {
		t.Fatalf("finish did not release slot")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	tr := New(1, WithHistorySize(3))
	for i := 0; i < 5; i++ {
		tr.Observe(context.Background(), video.JobRecord{ID: fmt.Sprint(i)})
	}
	h := tr.History()
	if len(h) != 3 || h[0].ID != "2" || h[2].ID != "4" {
		t.Fatalf("history = %+v", h)
	}
}

func TestEncodeGateHonoursContext(t *testing.T) {
	tr := New(4, WithEncodeSlots(1))
	if err := tr.AcquireEncode(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.AcquireEncode(ctx); err == nil {
		t.Fatalf("second acquire should time out while slot is held")
	}
	tr.ReleaseEncode()
	if err := tr.AcquireEncode(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	tr.ReleaseEncode()
}

// Package monitor runs the periodic resource loop and turns job records into
// Prometheus metrics and admin alerts.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/video"
)

type Snapshotter interface {
	Snapshot() metrics.Snapshot
}

// SnapshotRecorder keeps the latest snapshot in memory (the tracker).
type SnapshotRecorder interface {
	RecordSnapshot(s metrics.Snapshot)
}

// SnapshotStore persists snapshots for other processes (the stats store).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s metrics.Snapshot) error
}

type Sweeper interface {
	SweepStale(maxAge time.Duration) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Options struct {
	Interval      time.Duration
	DiskReserve   int64
	CleanupAfter  time.Duration
	FailureEvery  int           // alert on every N-th failed job; 0 disables
	AlertCooldown time.Duration // minimum gap between low-disk alerts
	Store         SnapshotStore
	Sweeper       Sweeper
	Notifier      Notifier
	Registerer    prometheus.Registerer
	Now           func() time.Time
}

type Monitor struct {
	opt      Options
	sys      Snapshotter
	recorder SnapshotRecorder
	now      func() time.Time

	failures atomic.Int64

	mu            sync.Mutex
	lastDiskAlert time.Time

	jobs       *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	saved      prometheus.Counter
	duration   prometheus.Histogram
	activeJobs prometheus.Gauge
	diskFree   prometheus.Gauge
}

func New(sys Snapshotter, rec SnapshotRecorder, opt Options) *Monitor {
	if opt.Interval <= 0 {
		opt.Interval = time.Hour
	}
	if opt.AlertCooldown <= 0 {
		opt.AlertCooldown = time.Hour
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	m := &Monitor{
		opt:      opt,
		sys:      sys,
		recorder: rec,
		now:      opt.Now,
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipsaver_jobs_total",
			Help: "Finished compression jobs by outcome and abort cause.",
		}, []string{"outcome", "cause"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipsaver_encode_attempts_total",
			Help: "Encoder invocations by status.",
		}, []string{"status"}),
		saved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipsaver_bytes_saved_total",
			Help: "Bytes removed by compression across delivered files.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipsaver_job_duration_seconds",
			Help:    "Wall time of jobs that ran at least one encode.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipsaver_active_jobs",
			Help: "Jobs currently holding a compression slot.",
		}),
		diskFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipsaver_disk_free_bytes",
			Help: "Free space on the temp volume at the last snapshot.",
		}),
	}
	if opt.Registerer != nil {
		opt.Registerer.MustRegister(m.jobs, m.attempts, m.saved, m.duration, m.activeJobs, m.diskFree)
	}
	return m
}

// Run ticks until ctx is done. The first tick happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.opt.Interval)
	defer t.Stop()
	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick takes one snapshot, publishes it, alerts on low disk and sweeps
// stale job directories.
func (m *Monitor) Tick(ctx context.Context) {
	snap := m.sys.Snapshot()
	if m.recorder != nil {
		m.recorder.RecordSnapshot(snap)
	}
	m.activeJobs.Set(float64(snap.ActiveJobs))
	if !snap.Unknown {
		m.diskFree.Set(float64(snap.FreeDiskBytes))
	}
	if m.opt.Store != nil {
		if err := m.opt.Store.SaveSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("save snapshot")
		}
	}
	log.Info().
		Int("active_jobs", snap.ActiveJobs).
		Int64("disk_free", snap.FreeDiskBytes).
		Float64("disk_used_pct", snap.DiskUsedPercent()).
		Bool("disk_unknown", snap.Unknown).
		Msg("system snapshot")

	if !snap.Unknown && snap.FreeDiskBytes < m.opt.DiskReserve {
		m.alertLowDisk(ctx, snap)
	}
	if m.opt.Sweeper != nil && m.opt.CleanupAfter > 0 {
		if n, err := m.opt.Sweeper.SweepStale(m.opt.CleanupAfter); err != nil {
			log.Warn().Err(err).Msg("sweep stale job dirs")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("swept stale job dirs")
		}
	}
}

func (m *Monitor) alertLowDisk(ctx context.Context, snap metrics.Snapshot) {
	m.mu.Lock()
	now := m.now()
	if !m.lastDiskAlert.IsZero() && now.Sub(m.lastDiskAlert) < m.opt.AlertCooldown {
		m.mu.Unlock()
		return
	}
	m.lastDiskAlert = now
	m.mu.Unlock()

	m.notify(ctx, fmt.Sprintf("⚠️ Low disk space: %.0f MB free, reserve is %.0f MB. New compression jobs are being rejected.",
		float64(snap.FreeDiskBytes)/video.MB, float64(m.opt.DiskReserve)/video.MB))
}

// Record implements tracker.Sink.
func (m *Monitor) Record(ctx context.Context, rec video.JobRecord) error {
	m.jobs.WithLabelValues(string(rec.Outcome), string(rec.AbortCause)).Inc()
	for _, a := range rec.Attempts {
		m.attempts.WithLabelValues(string(a.Status)).Inc()
	}
	if rec.FinalBytes > 0 && rec.FinalBytes < rec.Source.SizeBytes {
		m.saved.Add(float64(rec.Source.SizeBytes - rec.FinalBytes))
	}
	if len(rec.Attempts) > 0 {
		m.duration.Observe(rec.ProcessTime.Seconds())
	}

	if rec.Succeeded() || m.opt.FailureEvery <= 0 {
		return nil
	}
	if n := m.failures.Add(1); n%int64(m.opt.FailureEvery) == 0 {
		cause := string(rec.AbortCause)
		if cause == "" {
			cause = string(rec.Outcome)
		}
		m.notify(ctx, fmt.Sprintf("🚨 %d compression failures since start.\nLast: job %s (%s, %s, %d attempts)",
			n, rec.ID, rec.Platform, cause, len(rec.Attempts)))
	}
	return nil
}

func (m *Monitor) notify(ctx context.Context, text string) {
	if m.opt.Notifier == nil {
		return
	}
	if err := m.opt.Notifier.Notify(ctx, text); err != nil {
		log.Warn().Err(err).Msg("admin notify failed")
	}
}

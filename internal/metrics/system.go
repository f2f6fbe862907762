package metrics

import (
	"time"

	"github.com/rs/zerolog/log"
)

// JobCounter is anything that knows how many compression jobs are running.
type JobCounter interface {
	ActiveCount() int
}

// DiskStat reports free and total bytes for the volume holding path.
type DiskStat func(path string) (free, total uint64, err error)

// Snapshot is a point-in-time resource read. Never persisted by the core.
type Snapshot struct {
	FreeDiskBytes  int64     `json:"free_disk_bytes"`
	TotalDiskBytes int64     `json:"total_disk_bytes"`
	ActiveJobs     int       `json:"active_jobs"`
	Unknown        bool      `json:"unknown,omitempty"` // disk read failed
	TakenAt        time.Time `json:"taken_at"`
}

// DiskUsedPercent is 0 when the disk could not be read.
func (s Snapshot) DiskUsedPercent() float64 {
	if s.Unknown || s.TotalDiskBytes <= 0 {
		return 0
	}
	return float64(s.TotalDiskBytes-s.FreeDiskBytes) * 100 / float64(s.TotalDiskBytes)
}

// System answers "is it currently safe to start a compression job?".
type System struct {
	tempDir string
	jobs    JobCounter
	stat    DiskStat
	now     func() time.Time
}

type Option func(*System)

// WithDiskStat swaps the filesystem probe, mostly for tests.
func WithDiskStat(fn DiskStat) Option { return func(s *System) { s.stat = fn } }

func WithClock(now func() time.Time) Option { return func(s *System) { s.now = now } }

func NewSystem(tempDir string, jobs JobCounter, opts ...Option) *System {
	s := &System{tempDir: tempDir, jobs: jobs, stat: statfs, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot never fails. A disk read error yields a snapshot flagged Unknown.
func (s *System) Snapshot() Snapshot {
	snap := Snapshot{TakenAt: s.now()}
	if s.jobs != nil {
		snap.ActiveJobs = s.jobs.ActiveCount()
	}
	free, total, err := s.stat(s.tempDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", s.tempDir).Msg("disk stat failed")
		snap.Unknown = true
		return snap
	}
	snap.FreeDiskBytes = int64(free)
	snap.TotalDiskBytes = int64(total)
	return snap
}

// HasSufficientDiskSpace reports whether free space is at least threshold.
// An unreadable disk does not block the pipeline.
func (s *System) HasSufficientDiskSpace(threshold int64) bool {
	snap := s.Snapshot()
	if snap.Unknown {
		return true
	}
	return snap.FreeDiskBytes >= threshold
}

package video

import (
	"fmt"
	"time"
)

const MB = 1024 * 1024

// Resolution is an output frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// Short returns the shorter side, which is what ladders step on.
func (r Resolution) Short() int {
	if r.Width < r.Height {
		return r.Width
	}
	return r.Height
}

// Metadata is what the inspector learns about a file.
type Metadata struct {
	SizeBytes int64   `json:"size_bytes"`
	Duration  float64 `json:"duration_s"` // seconds, 0 when unknown
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Codec     string  `json:"codec"`
	Container string  `json:"container"`
}

func (m Metadata) Resolution() Resolution { return Resolution{Width: m.Width, Height: m.Height} }

// Artifact is a video file owned by the pipeline until delivery or cleanup.
type Artifact struct {
	Path string
	Metadata
}

// Target parameterizes one compression run. Built once from config and
// never mutated afterwards.
type Target struct {
	SizeBytes     int64
	MaxAttempts   int
	QualityLevels []int // encoder CRF values, ascending compression strength
	// MaxResolution is the lowest rung the downscale ladder steps to.
	// Sources already smaller are kept at native size.
	MaxResolution Resolution
	Timeout       time.Duration // per attempt
	Preset        string
}

// Candidate is one planned (quality, resolution) pair.
type Candidate struct {
	Quality int `json:"quality"`
	Resolution
}

func (c Candidate) String() string { return fmt.Sprintf("crf%d@%s", c.Quality, c.Resolution) }

type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptSuccess  AttemptStatus = "success"
	AttemptFailed   AttemptStatus = "failed"
	AttemptTimedOut AttemptStatus = "timed_out"
	AttemptTooLarge AttemptStatus = "too_large"
)

// Attempt is one encoder invocation.
type Attempt struct {
	Index      int           `json:"index"`
	Candidate  Candidate     `json:"candidate"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Status     AttemptStatus `json:"status"`
	OutputPath string        `json:"-"`
	SizeBytes  int64         `json:"size_bytes,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (a Attempt) Duration() time.Duration {
	if a.EndedAt == nil {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// Outcome is the terminal state of a compression run.
type Outcome string

const (
	OutcomeNotNeeded Outcome = "not_needed"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeAborted   Outcome = "aborted"
)

// JobRecord is the monitoring view of a finished job. It is what the tracker
// keeps in history and what gets shipped to the stats store.
type JobRecord struct {
	ID          string        `json:"id"`
	UserID      int64         `json:"user_id,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	Source      Metadata      `json:"source"`
	Attempts    []Attempt     `json:"attempts"`
	Outcome     Outcome       `json:"outcome"`
	AbortCause  AbortCause    `json:"abort_cause,omitempty"`
	FinalBytes  int64         `json:"final_bytes,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	ProcessTime time.Duration `json:"process_time"`
}

// Succeeded reports whether the job delivered a file within target.
func (r JobRecord) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeNotNeeded
}

// Ratio is final/original size, 0 when unknown.
func (r JobRecord) Ratio() float64 {
	if r.Source.SizeBytes <= 0 || r.FinalBytes <= 0 {
		return 0
	}
	return float64(r.FinalBytes) / float64(r.Source.SizeBytes)
}

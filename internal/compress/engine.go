// Package compress runs the progressive re-encode search for one source file.
package compress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wapuda/clipsaver/internal/ffmpeg"
	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/planner"
	"github.com/wapuda/clipsaver/internal/tracker"
	"github.com/wapuda/clipsaver/internal/video"
)

type Inspector interface {
	Inspect(ctx context.Context, path string) (video.Metadata, error)
}

type Encoder interface {
	Encode(ctx context.Context, req ffmpeg.EncodeRequest) error
}

type DiskChecker interface {
	HasSufficientDiskSpace(threshold int64) bool
}

// Settings are fixed for the lifetime of an Engine.
type Settings struct {
	Target      video.Target
	TempDir     string // per-job directories are created below it
	DiskReserve int64  // bytes that must stay free before an attempt starts
}

type Engine struct {
	set     Settings
	tracker *tracker.Tracker
	inspect Inspector
	encode  Encoder
	disk    DiskChecker
	now     func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(set Settings, tr *tracker.Tracker, ins Inspector, enc Encoder, disk DiskChecker, opts ...Option) *Engine {
	e := &Engine{set: set, tracker: tr, inspect: ins, encode: enc, disk: disk, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Target() video.Target { return e.set.Target }

// JobDir is the isolated directory for one job's files.
func (e *Engine) JobDir(jobID string) string { return filepath.Join(e.set.TempDir, jobID) }

// Request identifies one source file to bring under target.
type Request struct {
	JobID    string
	Path     string
	UserID   int64
	Platform string
}

// Result is returned for every terminal state. Final is set for NotNeeded
// (the untouched source) and Succeeded (the winning encode). Best is the
// smallest oversized encode that still beat the source, kept only when the
// run ended Exhausted.
type Result struct {
	JobID    string
	Outcome  video.Outcome
	Cause    video.AbortCause
	Source   video.Artifact
	Final    *video.Artifact
	Best     *video.Artifact
	Attempts []video.Attempt
	JobDir   string
}

// Deliverable is the file the caller should hand to delivery, if any.
func (r *Result) Deliverable() *video.Artifact {
	if r.Final != nil {
		return r.Final
	}
	return r.Best
}

// Cleanup removes the job directory and everything in it. The source file
// is not touched unless it lives there.
func (r *Result) Cleanup() error {
	if r == nil || r.JobDir == "" {
		return nil
	}
	return os.RemoveAll(r.JobDir)
}

// Compress measures req.Path and, if it is above target, tries planned
// candidates one at a time until one fits or the plan runs out.
//
// The returned Result is never nil. The error is non-nil only for Aborted
// runs and classifies with video.ClassifyAbort. Exhausted is not an error.
func (e *Engine) Compress(ctx context.Context, req Request) (*Result, error) {
	if req.JobID == "" {
		return &Result{Outcome: video.OutcomeAborted, Cause: video.CauseInternal}, errors.New("compress: empty job id")
	}
	ctx = logx.WithJob(ctx, req.JobID)
	lg := logx.FromCtx(ctx)
	res := &Result{JobID: req.JobID, JobDir: e.JobDir(req.JobID)}
	started := e.now()

	md, err := e.inspect.Inspect(ctx, req.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		lg.Warn().Err(err).Str("path", req.Path).Msg("inspection failed")
		return e.abortUnregistered(ctx, res, req, started, err)
	}
	res.Source = video.Artifact{Path: req.Path, Metadata: md}

	if md.SizeBytes <= e.set.Target.SizeBytes {
		lg.Info().Int64("size", md.SizeBytes).Int64("target", e.set.Target.SizeBytes).Msg("compression not needed")
		res.Outcome = video.OutcomeNotNeeded
		res.Final = &res.Source
		e.tracker.Observe(context.WithoutCancel(ctx), e.record(req, md, res, started))
		return res, nil
	}

	h, err := e.tracker.Register(tracker.Job{
		ID:        req.JobID,
		UserID:    req.UserID,
		Platform:  req.Platform,
		Source:    md,
		Target:    e.set.Target,
		StartedAt: started,
	})
	if err != nil {
		lg.Warn().Err(err).Msg("no compression slot")
		return e.abortUnregistered(ctx, res, req, started, err)
	}
	defer e.tracker.Release(h)

	if !e.disk.HasSufficientDiskSpace(e.set.DiskReserve) {
		err := fmt.Errorf("reserve %d bytes: %w", e.set.DiskReserve, video.ErrInsufficientDisk)
		lg.Warn().Err(err).Msg("disk check failed")
		return e.abort(ctx, h, res, err)
	}
	if err := os.MkdirAll(res.JobDir, 0o755); err != nil {
		return e.abort(ctx, h, res, fmt.Errorf("create job dir: %w", err))
	}

	seq := planner.NewSequence(md.Resolution(), e.set.Target)
	lg.Info().
		Int64("size", md.SizeBytes).
		Int64("target", e.set.Target.SizeBytes).
		Str("resolution", md.Resolution().String()).
		Int("candidates", seq.Len()).
		Msg("compression started")

	var best *video.Artifact
	for idx := 1; ; idx++ {
		c, ok := seq.Next()
		if !ok {
			break
		}
		if idx > 1 && !e.disk.HasSufficientDiskSpace(e.set.DiskReserve) {
			lg.Warn().Int("attempt", idx).Msg("disk below reserve, stopping attempts")
			break
		}

		a := e.attempt(ctx, idx, c, res.Source, res.JobDir)
		if err := e.tracker.RecordAttempt(h, a); err != nil {
			lg.Warn().Err(err).Msg("record attempt")
		}

		if err := ctx.Err(); err != nil {
			removeArtifact(best)
			removeFile(a.OutputPath)
			return e.abort(ctx, h, res, err)
		}

		switch a.Status {
		case video.AttemptSuccess:
			removeArtifact(best)
			res.Final = e.artifact(a, md)
			res.Outcome = video.OutcomeSucceeded
			rec, _ := e.tracker.Finish(context.WithoutCancel(ctx), h, tracker.Final{
				Outcome:    res.Outcome,
				FinalBytes: a.SizeBytes,
			})
			res.Attempts = rec.Attempts
			lg.Info().Int("attempts", idx).Int64("size", a.SizeBytes).Str("candidate", c.String()).Msg("compression succeeded")
			return res, nil
		case video.AttemptTooLarge:
			if a.SizeBytes < md.SizeBytes && (best == nil || a.SizeBytes < best.SizeBytes) {
				removeArtifact(best)
				best = e.artifact(a, md)
			} else {
				removeFile(a.OutputPath)
			}
		}
	}

	res.Outcome = video.OutcomeExhausted
	res.Best = best
	var bestBytes int64
	if best != nil {
		bestBytes = best.SizeBytes
	}
	rec, _ := e.tracker.Finish(context.WithoutCancel(ctx), h, tracker.Final{
		Outcome:    res.Outcome,
		FinalBytes: bestBytes,
	})
	res.Attempts = rec.Attempts
	lg.Warn().Int("attempts", len(rec.Attempts)).Int64("best", bestBytes).Msg("compression exhausted")
	return res, nil
}

// attempt runs one candidate under its own deadline. The encode slot is
// held only while the encoder runs. Failed outputs are removed here;
// too-large outputs are left for the caller to keep or discard.
func (e *Engine) attempt(ctx context.Context, idx int, c video.Candidate, src video.Artifact, dir string) video.Attempt {
	lg := logx.FromCtx(ctx).With().Int("attempt", idx).Str("candidate", c.String()).Logger()
	a := video.Attempt{
		Index:      idx,
		Candidate:  c,
		StartedAt:  e.now(),
		Status:     video.AttemptPending,
		OutputPath: filepath.Join(dir, fmt.Sprintf("attempt-%d-crf%d-%s.mp4", idx, c.Quality, c.Resolution)),
	}
	finish := func(st video.AttemptStatus, err error) video.Attempt {
		end := e.now()
		a.EndedAt = &end
		a.Status = st
		if err != nil {
			a.Error = (&video.AttemptError{Candidate: c, Status: st, Err: err}).Error()
		}
		return a
	}

	actx, cancel := context.WithTimeout(ctx, e.set.Target.Timeout)
	defer cancel()

	if err := e.tracker.AcquireEncode(actx); err != nil {
		lg.Warn().Err(err).Msg("no encode slot before deadline")
		return finish(timeoutOrFailed(ctx, actx), err)
	}
	err := e.encode.Encode(actx, ffmpeg.EncodeRequest{
		Input:   src.Path,
		Output:  a.OutputPath,
		Quality: c.Quality,
		Width:   c.Width,
		Height:  c.Height,
		Preset:  e.set.Target.Preset,
	})
	e.tracker.ReleaseEncode()

	if err != nil {
		removeFile(a.OutputPath)
		st := timeoutOrFailed(ctx, actx)
		lg.Warn().Err(err).Str("status", string(st)).Msg("attempt failed")
		return finish(st, err)
	}

	st, err := os.Stat(a.OutputPath)
	if err != nil {
		removeFile(a.OutputPath)
		lg.Warn().Err(err).Msg("attempt produced no output")
		return finish(video.AttemptFailed, err)
	}
	a.SizeBytes = st.Size()
	if a.SizeBytes == 0 {
		removeFile(a.OutputPath)
		return finish(video.AttemptFailed, errors.New("empty output"))
	}
	if a.SizeBytes > e.set.Target.SizeBytes {
		lg.Info().Int64("size", a.SizeBytes).Msg("attempt too large")
		return finish(video.AttemptTooLarge, nil)
	}
	lg.Info().Int64("size", a.SizeBytes).Dur("took", e.now().Sub(a.StartedAt)).Msg("attempt fits target")
	return finish(video.AttemptSuccess, nil)
}

func timeoutOrFailed(parent, attempt context.Context) video.AttemptStatus {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return video.AttemptTimedOut
	}
	return video.AttemptFailed
}

func (e *Engine) artifact(a video.Attempt, src video.Metadata) *video.Artifact {
	return &video.Artifact{
		Path: a.OutputPath,
		Metadata: video.Metadata{
			SizeBytes: a.SizeBytes,
			Duration:  src.Duration,
			Width:     a.Candidate.Width,
			Height:    a.Candidate.Height,
			Codec:     "h264",
			Container: "mp4",
		},
	}
}

func (e *Engine) abort(ctx context.Context, h *tracker.Handle, res *Result, err error) (*Result, error) {
	res.Outcome = video.OutcomeAborted
	res.Cause = video.ClassifyAbort(err)
	res.Final, res.Best = nil, nil
	rec, _ := e.tracker.Finish(context.WithoutCancel(ctx), h, tracker.Final{Outcome: res.Outcome, Cause: res.Cause})
	res.Attempts = rec.Attempts
	return res, err
}

// abortUnregistered records a job that never held a slot.
func (e *Engine) abortUnregistered(ctx context.Context, res *Result, req Request, started time.Time, err error) (*Result, error) {
	res.Outcome = video.OutcomeAborted
	res.Cause = video.ClassifyAbort(err)
	e.tracker.Observe(context.WithoutCancel(ctx), e.record(req, res.Source.Metadata, res, started))
	return res, err
}

func (e *Engine) record(req Request, md video.Metadata, res *Result, started time.Time) video.JobRecord {
	finished := e.now()
	rec := video.JobRecord{
		ID:          req.JobID,
		UserID:      req.UserID,
		Platform:    req.Platform,
		Source:      md,
		Outcome:     res.Outcome,
		AbortCause:  res.Cause,
		StartedAt:   started,
		FinishedAt:  finished,
		ProcessTime: finished.Sub(started),
	}
	if res.Outcome == video.OutcomeNotNeeded {
		rec.FinalBytes = md.SizeBytes
	}
	return rec
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("remove attempt file")
	}
}

func removeArtifact(a *video.Artifact) {
	if a != nil {
		removeFile(a.Path)
	}
}

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	logx "github.com/wapuda/clipsaver/internal/logs"
)

// killGrace is how long Wait gives a killed ffmpeg to release its pipes.
const killGrace = 5 * time.Second

// EncodeRequest is one libx264 re-encode.
type EncodeRequest struct {
	Input   string
	Output  string
	Quality int // CRF
	Width   int
	Height  int
	Preset  string
}

// Encoder runs ffmpeg. A cancelled or expired context kills the process.
type Encoder struct {
	bin string
}

func NewEncoder(bin string) *Encoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Encoder{bin: bin}
}

// BuildArgs returns the ffmpeg arguments (without the binary) for req.
func BuildArgs(req EncodeRequest) []string {
	preset := req.Preset
	if preset == "" {
		preset = "medium"
	}
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-i", req.Input,
	}
	if req.Width > 0 && req.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", req.Width, req.Height))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", strconv.Itoa(req.Quality),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		"-f", "mp4",
		req.Output,
	)
	return args
}

// Encode blocks until ffmpeg exits. When ctx ends first the returned error
// wraps ctx.Err().
func (e *Encoder) Encode(ctx context.Context, req EncodeRequest) error {
	cmd := exec.CommandContext(ctx, e.bin, BuildArgs(req)...)
	cmd.WaitDelay = killGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	lw := logx.NewLineWriter(logx.FromCtx(ctx), map[string]string{
		"tool": "ffmpeg",
		"crf":  strconv.Itoa(req.Quality),
	}, zerolog.DebugLevel)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	lw.Pipe(stderr)
	err = cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg killed: %w", ctxErr)
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && lw.Tail() != "" {
			return fmt.Errorf("ffmpeg exit %d: %s", ee.ExitCode(), lw.Tail())
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Available reports whether bin resolves on PATH (or is an existing path).
func Available(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%s not found: %w", bin, err)
	}
	return nil
}

// Package fetch downloads source videos for the pipeline.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/video"
)

// formatSelector prefers a single mp4 file so Telegram can play it inline.
const formatSelector = "best[ext=mp4]/best/worst"

// YtDlp fetches with the yt-dlp binary.
type YtDlp struct {
	bin     string
	timeout time.Duration
}

func NewYtDlp(bin string, timeout time.Duration) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{bin: bin, timeout: timeout}
}

func buildArgs(link, dir string) []string {
	return []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--restrict-filenames",
		"-f", formatSelector,
		"-o", filepath.Join(dir, "source.%(ext)s"),
		"--print", "after_move:filepath",
		link,
	}
}

// Fetch downloads link into dir and returns the local path. Every failure
// is a *video.FetchError.
func (y *YtDlp) Fetch(ctx context.Context, link, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &video.FetchError{URL: link, Err: err}
	}
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, y.bin, buildArgs(link, dir)...)
	cmd.WaitDelay = 5 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &video.FetchError{URL: link, Err: err}
	}
	lw := logx.NewLineWriter(logx.FromCtx(ctx), map[string]string{"tool": "yt-dlp"}, zerolog.DebugLevel)
	if err := cmd.Start(); err != nil {
		return "", &video.FetchError{URL: link, Err: err}
	}
	lw.Pipe(stderr)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if tail := lw.Tail(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return "", &video.FetchError{URL: link, Err: err}
	}

	path := lastLine(out.String())
	if path == "" {
		return "", &video.FetchError{URL: link, Err: errors.New("yt-dlp printed no file path")}
	}
	if st, err := os.Stat(path); err != nil || st.Size() == 0 {
		if err == nil {
			err = errors.New("downloaded file is empty")
		}
		return "", &video.FetchError{URL: link, Err: err}
	}
	return path, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

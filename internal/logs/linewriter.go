package logx

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// tailLines is how many trailing lines a LineWriter keeps for error reports.
const tailLines = 8

// LineWriter turns subprocess output into per-line zerolog events and keeps
// the last few lines so a failed run can report why it failed.
type LineWriter struct {
	logger zerolog.Logger
	level  zerolog.Level

	mu   sync.Mutex
	tail []string
}

func NewLineWriter(base zerolog.Logger, fields map[string]string, level zerolog.Level) *LineWriter {
	w := base.With()
	for k, v := range fields {
		w = w.Str(k, v)
	}
	return &LineWriter{logger: w.Logger(), level: level}
}

// Pipe consumes r until EOF. Safe to run in its own goroutine.
func (lw *LineWriter) Pipe(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lw.remember(line)
		lw.logger.WithLevel(lw.level).Msg(line)
	}
}

func (lw *LineWriter) remember(line string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.tail = append(lw.tail, line)
	if len(lw.tail) > tailLines {
		lw.tail = lw.tail[len(lw.tail)-tailLines:]
	}
}

// Tail returns the last lines seen, newline-joined.
func (lw *LineWriter) Tail() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return strings.Join(lw.tail, "\n")
}

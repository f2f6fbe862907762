package compress

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// SweepStale removes job directories under the temp dir whose last
// modification is older than maxAge. They are left behind only by a crash
// mid-job. Returns how many directories were removed.
func (e *Engine) SweepStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(e.set.TempDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := e.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(e.set.TempDir, de.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		log.Info().Str("dir", path).Time("mtime", info.ModTime()).Msg("removed stale job dir")
	}
	return removed, errors.Join(errs...)
}

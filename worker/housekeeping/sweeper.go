// Package housekeeping removes stale files left behind in the upload
// staging directory.
package housekeeping

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

type Sweeper struct {
	dir    string
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewSweeper(dir string, maxAge time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{dir: dir, maxAge: maxAge, logger: logger, now: time.Now}
}

// Sweep deletes regular files in the staging directory whose modification
// time is older than maxAge. Failures on individual files are logged and
// skipped. A missing directory is not an error.
func (s *Sweeper) Sweep() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to list uploads", zap.String("dir", s.dir), zap.Error(err))
		}
		return 0
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			s.logger.Warn("Failed to stat upload", zap.String("path", path), zap.Error(err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove stale upload", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Removed stale uploads",
			zap.String("dir", s.dir),
			zap.Int("count", removed),
		)
	}
	return removed
}

// Package retention removes old probe images from scratch storage.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"facerecog/internal/metrics"
)

const lockName = ".sweep.lock"

// Sweeper deletes probe files older than maxAge. A zero maxAge keeps
// everything.
type Sweeper struct {
	dir    string
	maxAge time.Duration
	lock   *flock.Flock
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper builds a sweeper for dir.
func NewSweeper(dir string, maxAge time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		dir:    dir,
		maxAge: maxAge,
		lock:   flock.New(filepath.Join(dir, lockName)),
		logger: logger.Named("retention"),
		now:    time.Now,
	}
}

// Enabled reports whether the sweeper deletes anything.
func (s *Sweeper) Enabled() bool { return s.maxAge > 0 }

// Sweep removes expired probes once. When another process holds the lock
// it does nothing and returns 0.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create upload directory: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		s.logger.Debug("sweep skipped, lock held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release sweep lock", zap.Error(err))
		}
	}()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload directory: %w", err)
	}
	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if entry.IsDir() || entry.Name() == lockName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	metrics.ObserveSwept(removed)
	if removed > 0 {
		s.logger.Info("swept expired probes", zap.Int("removed", removed), zap.Duration("max_age", s.maxAge))
	}
	return removed, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if !s.Enabled() {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

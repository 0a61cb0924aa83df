package service

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/port"
)

// Sweeper reclaims storage for jobs whose terminal state outlived the
// retention window: backing files are deleted best-effort, then the job is
// transitioned to expired and removed from the store. Queued and
// processing jobs are never touched regardless of age.
type Sweeper struct {
	store     port.JobStore
	outputDir string
	retention time.Duration
	interval  time.Duration
}

func NewSweeper(store port.JobStore, outputDir string, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		outputDir: outputDir,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps once at startup and then on a fixed interval, independent of
// request traffic, until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one retention pass. A single file's delete failure is
// logged and skipped; it never blocks the rest of that job's artifacts or
// subsequent jobs.
func (s *Sweeper) Sweep(now time.Time) {
	cutoff := now.Add(-s.retention)
	expired, err := s.store.ListExpired(cutoff)
	if err != nil {
		logger.Error.Printf("sweeper: failed to list expired jobs: %v", err)
		return
	}

	for _, job := range expired {
		s.removeFiles(job)

		if err := s.store.Expire(job.ID); err != nil {
			logger.Error.Printf("sweeper: failed to expire job %s: %v", job.ID, err)
			continue
		}
		if err := s.store.Delete(job.ID); err != nil {
			logger.Error.Printf("sweeper: failed to delete job %s: %v", job.ID, err)
			continue
		}
		logger.Info.Printf("sweeper: removed job %s (completed %s)", job.ID, job.CompletedAt.Format(time.RFC3339))
	}
}

func (s *Sweeper) removeFiles(job *domain.Job) {
	if job.SourcePath != "" {
		if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
			logger.Warn.Printf("sweeper: could not remove source of %s: %v", job.ID, err)
		}
	}

	for name, path := range job.Outputs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn.Printf("sweeper: could not remove %s artifact of %s: %v", name, job.ID, err)
		}
	}

	// Drop the job's now-empty output directory.
	if len(job.Outputs) > 0 {
		_ = os.Remove(filepath.Join(s.outputDir, job.ID))
	}
}

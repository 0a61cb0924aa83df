package port

import (
	"time"

	"github.com/mvailland/scribe/internal/domain"
)

// JobStore is the authoritative table of job records. Implementations must
// make every mutation atomic with respect to concurrent readers: a Get
// never observes a half-applied transition (completed with empty outputs).
type JobStore interface {
	Create(job *domain.Job) error

	// Get returns domain.ErrNotFound for an unknown id, never an empty record.
	Get(id string) (*domain.Job, error)

	// List returns jobs ordered newest first, at most limit (0 = all).
	List(limit int) ([]*domain.Job, error)

	// CountQueued returns the number of jobs waiting for a worker.
	CountQueued() (int, error)

	// ClaimNext atomically moves the oldest queued job to processing and
	// returns it. Returns (nil, nil) when nothing is queued.
	ClaimNext() (*domain.Job, error)

	// UpdateProgress records fractional progress for a processing job.
	// Values are monotonic per job: a report lower than the stored value
	// is ignored.
	UpdateProgress(id string, value float64) error

	// UpdatePreview records the rolling text preview of a processing job.
	// Advisory like UpdateProgress: a no-op when the job is not processing.
	UpdatePreview(id string, preview string) error

	// Complete transitions processing -> completed with the artifact map
	// and transcript metadata.
	Complete(id string, outputs map[string]string, t *domain.Transcript, preview string) error

	// Fail transitions a queued or processing job to failed.
	Fail(id string, reason string) error

	// ListExpired returns terminal jobs that reached their terminal state
	// before cutoff. Queued and processing jobs are never returned
	// regardless of age.
	ListExpired(cutoff time.Time) ([]*domain.Job, error)

	// Expire transitions a terminal job to expired.
	Expire(id string) error

	// Delete removes a job record entirely.
	Delete(id string) error

	// ResetStalled requeues jobs left in processing by a previous run.
	ResetStalled() error

	Close() error
}

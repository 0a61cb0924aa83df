// Package jsonfile keeps the job table in memory, snapshotting it to a
// JSON file on every mutation. It is the store used when SQLite
// persistence is disabled: crash-safe enough for a single-process
// deployment, with no external dependencies.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/port"
)

type Store struct {
	mu   sync.RWMutex
	path string
	jobs map[string]*domain.Job
}

func NewStore(dataDir string) (*Store, error) {
	store := &Store{
		path: filepath.Join(dataDir, "jobs.json"),
		jobs: make(map[string]*domain.Job),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var jobs []*domain.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}

	for _, j := range jobs {
		s.jobs[j.ID] = j
	}

	return nil
}

// snapshot persists the table atomically via rename. Callers must hold the
// write lock.
func (s *Store) snapshot() error {
	tmpPath := s.path + ".tmp"

	jobs := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

func (s *Store) Create(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	clone := cloneJob(job)
	s.jobs[job.ID] = clone
	return s.snapshot()
}

func (s *Store) Get(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) List(limit int) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, cloneJob(j))
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) CountQueued() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.State == domain.JobStateQueued {
			n++
		}
	}
	return n, nil
}

func (s *Store) ClaimNext() (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Job
	for _, j := range s.jobs {
		if j.State != domain.JobStateQueued {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.MarkProcessing()
	if err := s.snapshot(); err != nil {
		return nil, err
	}
	return cloneJob(oldest), nil
}

func (s *Store) UpdateProgress(id string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	// Advisory only: out-of-order or stale reports are silently dropped.
	if job.State != domain.JobStateProcessing || value <= job.Progress {
		return nil
	}
	job.Progress = value
	return nil
}

func (s *Store) UpdatePreview(id string, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	// Advisory like progress; Complete overwrites with the final text.
	// Not worth a snapshot per segment; the preview is transient state.
	if job.State != domain.JobStateProcessing {
		return nil
	}
	job.Preview = preview
	return nil
}

func (s *Store) Complete(id string, outputs map[string]string, t *domain.Transcript, preview string) error {
	if len(outputs) == 0 {
		return fmt.Errorf("complete job %s: empty outputs", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.transitionLocked(id, domain.JobStateCompleted)
	if err != nil {
		return err
	}
	job.MarkCompleted(outputs, t)
	job.Preview = preview
	return s.snapshot()
}

func (s *Store) Fail(id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.transitionLocked(id, domain.JobStateFailed)
	if err != nil {
		return err
	}
	job.MarkFailed(reason)
	return s.snapshot()
}

func (s *Store) ListExpired(cutoff time.Time) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*domain.Job
	for _, j := range s.jobs {
		if j.TerminalBefore(cutoff) {
			expired = append(expired, cloneJob(j))
		}
	}
	sort.Slice(expired, func(i, k int) bool {
		return expired[i].CompletedAt.Before(expired[k].CompletedAt)
	})
	return expired, nil
}

func (s *Store) Expire(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.transitionLocked(id, domain.JobStateExpired)
	if err != nil {
		return err
	}
	job.State = domain.JobStateExpired
	return s.snapshot()
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return s.snapshot()
}

func (s *Store) ResetStalled() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, j := range s.jobs {
		if j.State == domain.JobStateProcessing {
			j.State = domain.JobStateQueued
			j.StartedAt = time.Time{}
			j.Progress = 0
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.snapshot()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// transitionLocked validates the state machine for a pending mutation.
// Callers must hold the write lock.
func (s *Store) transitionLocked(id string, to domain.JobState) (*domain.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.ValidTransition(job.State, to) {
		return nil, fmt.Errorf("job %s: invalid transition %s -> %s", id, job.State, to)
	}
	return job, nil
}

// cloneJob keeps readers isolated from in-place mutations.
func cloneJob(j *domain.Job) *domain.Job {
	clone := *j
	if j.Outputs != nil {
		clone.Outputs = make(map[string]string, len(j.Outputs))
		for k, v := range j.Outputs {
			clone.Outputs[k] = v
		}
	}
	return &clone
}

var _ port.JobStore = (*Store)(nil)

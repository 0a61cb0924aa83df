package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/format"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/port"
	"github.com/mvailland/scribe/internal/validation"
)

// minUploadBytes rejects files too small to hold any decodable audio.
const minUploadBytes = 1024

// JobCanceler interrupts the engine call of an in-flight job.
type JobCanceler interface {
	CancelJob(id string) bool
}

// JobService admits uploads as jobs and answers status, cancel, and
// artifact lookups against the job store.
type JobService struct {
	store           port.JobStore
	models          *ModelManager
	canceler        JobCanceler
	uploadDir       string
	maxUploadBytes  int64
	queueDepth      int
	defaultLanguage string
	defaultTask     domain.Task
}

func NewJobService(
	store port.JobStore,
	models *ModelManager,
	uploadDir string,
	maxUploadSizeMB int,
	queueDepth int,
	defaultLanguage string,
	defaultTask domain.Task,
) *JobService {
	return &JobService{
		store:           store,
		models:          models,
		uploadDir:       uploadDir,
		maxUploadBytes:  int64(maxUploadSizeMB) * 1024 * 1024,
		queueDepth:      queueDepth,
		defaultLanguage: defaultLanguage,
		defaultTask:     defaultTask,
	}
}

// SetCanceler wires the worker pool in after construction; the pool needs
// the store too, so neither can own the other.
func (s *JobService) SetCanceler(c JobCanceler) {
	s.canceler = c
}

// Submit validates an upload and creates a queued job. Validation order:
// availability, size, filename, extension allow-list, content signature.
// All failures are synchronous; nothing is retried and no bytes are kept
// on rejection.
func (s *JobService) Submit(filename string, file *os.File, language, task string) (*domain.Job, error) {
	if s.models.Switching() {
		return nil, domain.ErrModelSwitching
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() < minUploadBytes {
		return nil, domain.NewValidationError("file too small")
	}
	if info.Size() > s.maxUploadBytes {
		return nil, domain.NewValidationError("file too large (max %d MB)", s.maxUploadBytes/(1024*1024))
	}

	ext, err := validation.CheckFilename(filename)
	if err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	if _, err := validation.CheckContent(file, ext); err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	if s.queueDepth > 0 {
		queued, err := s.store.CountQueued()
		if err != nil {
			return nil, fmt.Errorf("count queued jobs: %w", err)
		}
		if queued >= s.queueDepth {
			return nil, domain.ErrQueueFull
		}
	}

	params, err := s.resolveParams(language, task)
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(filename, "", params)

	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	destName := job.ID + "_" + validation.SanitizeFilename(filename)
	destPath, err := validation.SafeJoin(s.uploadDir, destName)
	if err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}

	if err := moveUpload(file.Name(), destPath); err != nil {
		logger.Error.Printf("failed to store upload %s: %v", logger.SanitizeForLog(filename), err)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	job.SourcePath = destPath

	if err := s.store.Create(job); err != nil {
		_ = os.Remove(destPath)
		logger.Error.Printf("failed to create job for %s: %v", logger.SanitizeForLog(filename), err)
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger.Info.Printf("job %s queued: file=%s model=%s task=%s",
		job.ID, logger.SanitizeForLog(filename), params.ModelID, params.Task)
	return job, nil
}

// moveUpload moves the spooled temp file into the upload root. Rename is
// the fast path; when the temp dir and the upload root sit on different
// filesystems (a containerized data volume) rename fails with EXDEV, so
// fall back to copy+remove.
func moveUpload(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func (s *JobService) resolveParams(language, task string) (domain.Params, error) {
	if language == "" {
		language = s.defaultLanguage
	}

	t := s.defaultTask
	if task != "" {
		t = domain.Task(task)
		if !domain.ValidTask(t) {
			return domain.Params{}, domain.NewValidationError("unknown task %q", task)
		}
	}

	modelID, computeType := s.models.Current()
	return domain.Params{
		Language:    language,
		Task:        t,
		ModelID:     modelID,
		ComputeType: computeType,
	}, nil
}

func (s *JobService) Get(id string) (*domain.Job, error) {
	return s.store.Get(id)
}

func (s *JobService) List(limit int) ([]*domain.Job, error) {
	return s.store.List(limit)
}

// Cancel stops a job. Queued jobs fail immediately without engine
// interaction; processing jobs get a best-effort engine interrupt and are
// otherwise left to finish. Cancelling a terminal job is a no-op.
func (s *JobService) Cancel(id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}

	switch job.State {
	case domain.JobStateQueued:
		return s.store.Fail(id, "canceled by client")
	case domain.JobStateProcessing:
		if s.canceler != nil && s.canceler.CancelJob(id) {
			logger.Info.Printf("job %s: engine interrupt requested", id)
		}
		return nil
	default:
		return nil
	}
}

// Artifact resolves a completed job's output for download. Missing jobs,
// jobs that are not completed, and formats that were never produced all
// report NotFound.
func (s *JobService) Artifact(id, formatName string) (path, downloadName string, err error) {
	if !format.Known(formatName) {
		return "", "", domain.ErrNotFound
	}

	job, err := s.store.Get(id)
	if err != nil {
		return "", "", err
	}
	if job.State != domain.JobStateCompleted {
		return "", "", domain.ErrNotFound
	}

	path, ok := job.Outputs[formatName]
	if !ok {
		return "", "", domain.ErrNotFound
	}

	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	if base == "" {
		base = job.ID
	}
	return path, base + "." + formatName, nil
}

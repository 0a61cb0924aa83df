package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/format"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/port"
)

const idlePollInterval = 500 * time.Millisecond

// WorkerPool bounds concurrent engine invocations to a fixed number of
// workers, each pulling the oldest queued job. The engine call is the only
// long-running operation; no store lock is ever held across it.
type WorkerPool struct {
	store         port.JobStore
	engine        port.Transcriber
	reporter      *ProgressReporter
	modelDir      string
	outputDir     string
	workers       int
	engineTimeout time.Duration

	group   *errgroup.Group
	cancels cancelRegistry
}

func NewWorkerPool(
	store port.JobStore,
	engine port.Transcriber,
	reporter *ProgressReporter,
	modelDir string,
	outputDir string,
	workers int,
	engineTimeout time.Duration,
) *WorkerPool {
	return &WorkerPool{
		store:         store,
		engine:        engine,
		reporter:      reporter,
		modelDir:      modelDir,
		outputDir:     outputDir,
		workers:       workers,
		engineTimeout: engineTimeout,
		cancels:       cancelRegistry{funcs: make(map[string]context.CancelFunc)},
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	// Jobs left in processing by a previous run are requeued, not lost.
	if err := wp.store.ResetStalled(); err != nil {
		logger.Error.Printf("failed to reset stalled jobs: %v", err)
	}

	wp.group = &errgroup.Group{}
	for i := range wp.workers {
		wp.group.Go(func() error {
			wp.runWorker(ctx, i)
			return nil
		})
	}
	logger.Info.Printf("started %d workers", wp.workers)
}

// Wait blocks until every worker has drained after the start context is
// canceled. In-flight jobs finish or hit their engine deadline.
func (wp *WorkerPool) Wait() {
	if wp.group != nil {
		_ = wp.group.Wait()
	}
}

// CancelJob interrupts the engine call of an in-flight job. Best-effort:
// returns false when the job is not currently processing on this pool.
func (wp *WorkerPool) CancelJob(id string) bool {
	return wp.cancels.cancel(id)
}

func (wp *WorkerPool) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			logger.Info.Printf("worker %d shutting down", id)
			return
		default:
		}

		job, err := wp.store.ClaimNext()
		if err != nil {
			logger.Error.Printf("worker %d: failed to claim job: %v", id, err)
			sleepCtx(ctx, 2*time.Second)
			continue
		}

		if job == nil {
			// No queued jobs, wait before polling again
			sleepCtx(ctx, idlePollInterval)
			continue
		}

		logger.Info.Printf("worker %d: processing job %s (file=%s, model=%s, task=%s)",
			id, job.ID, logger.SanitizeForLog(job.Filename), job.Params.ModelID, job.Params.Task)
		wp.processJob(ctx, job)
	}
}

func (wp *WorkerPool) processJob(ctx context.Context, job *domain.Job) {
	// Dequeue-time validation: a vanished source fails the job without
	// touching the engine.
	if _, err := os.Stat(job.SourcePath); err != nil {
		wp.failJob(job.ID, fmt.Sprintf("source file missing: %v", err))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, wp.engineTimeout)
	wp.cancels.register(job.ID, cancel)
	defer func() {
		wp.cancels.remove(job.ID)
		cancel()
	}()

	// Engine callbacks arrive on a single goroutine, so the rolling
	// preview needs no lock. It keeps the most recent segments within
	// previewLimit so pollers see the tail of a long run, not the head.
	var liveTail []string
	var liveLen int

	transcript, err := wp.engine.Transcribe(jobCtx, port.TranscribeRequest{
		SourcePath: job.SourcePath,
		Language:   job.Params.Language,
		Task:       job.Params.Task,
		ModelPath:  filepath.Join(wp.modelDir, domain.ModelFilename(job.Params.ModelID)),
		OnProgress: func(v float64) { wp.reporter.Report(job.ID, v) },
		OnSegment: func(seg domain.Segment) {
			liveTail = append(liveTail, seg.Text)
			liveLen += len(seg.Text) + 1
			for liveLen > previewLimit && len(liveTail) > 1 {
				liveLen -= len(liveTail[0]) + 1
				liveTail = liveTail[1:]
			}
			if err := wp.store.UpdatePreview(job.ID, strings.Join(liveTail, "\n")); err != nil {
				logger.Debug.Printf("job %s: preview update dropped: %v", job.ID, err)
			}
		},
	})

	if err != nil {
		// Pool shutdown interrupts the engine; the job stays in
		// processing and is requeued by ResetStalled on next start.
		if ctx.Err() != nil {
			logger.Info.Printf("job %s interrupted by shutdown", job.ID)
			return
		}
		reason := err.Error()
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("engine deadline exceeded after %s", wp.engineTimeout)
		} else if errors.Is(jobCtx.Err(), context.Canceled) {
			reason = "canceled by client"
		}
		wp.failJob(job.ID, reason)
		return
	}

	outputs, err := format.WriteAll(wp.outputDir, job.ID, transcript, job.Params)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedTranscript) {
			// Engine output broke the segment invariants: an internal
			// defect, logged apart from ordinary engine failures.
			logger.Error.Printf("job %s: malformed engine output: %v", job.ID, err)
		}
		wp.failJob(job.ID, err.Error())
		return
	}

	preview := format.ToText(transcript.Segments)
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}

	if err := wp.store.Complete(job.ID, outputs, transcript, preview); err != nil {
		logger.Error.Printf("job %s: failed to record completion: %v", job.ID, err)
		return
	}

	// The upload has served its purpose; retention applies to artifacts.
	if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
		logger.Warn.Printf("job %s: could not remove source file: %v", job.ID, err)
	}

	logger.Info.Printf("job %s completed (%d segments)", job.ID, len(transcript.Segments))
}

func (wp *WorkerPool) failJob(id, reason string) {
	if err := wp.store.Fail(id, reason); err != nil {
		logger.Error.Printf("job %s: failed to record failure: %v", id, err)
		return
	}
	logger.Error.Printf("job %s failed: %s", id, reason)
}

// previewLimit caps the stored plain-text preview.
const previewLimit = 2000

// sleepCtx sleeps for d or until ctx is canceled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// cancelRegistry maps in-flight job ids to their engine context cancel
// functions, enabling best-effort cancellation of processing jobs.
type cancelRegistry struct {
	mu    sync.Mutex
	funcs map[string]context.CancelFunc
}

func (r *cancelRegistry) register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[id] = cancel
}

func (r *cancelRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.funcs, id)
}

func (r *cancelRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.funcs[id]
	if ok {
		cancel()
	}
	return ok
}

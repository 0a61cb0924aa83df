package service

import (
	"math"

	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/port"
)

// ProgressReporter forwards best-effort fractional progress from an
// in-flight engine invocation into the job store. Values are clamped to
// [0,1]; the store enforces per-job monotonicity, so noisy or out-of-order
// callbacks are tolerated. Purely advisory: nothing here can fail a job.
type ProgressReporter struct {
	store port.JobStore
}

func NewProgressReporter(store port.JobStore) *ProgressReporter {
	return &ProgressReporter{store: store}
}

func (r *ProgressReporter) Report(id string, value float64) {
	if math.IsNaN(value) {
		return
	}
	value = math.Max(0, math.Min(1, value))

	if err := r.store.UpdateProgress(id, value); err != nil {
		logger.Debug.Printf("progress update for %s dropped: %v", id, err)
	}
}

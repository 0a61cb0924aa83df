package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateExpired    JobState = "expired"
)

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Params are the transcription parameters fixed at submission time.
type Params struct {
	Language    string `json:"language"`
	Task        Task   `json:"task"`
	ModelID     string `json:"model_id"`
	ComputeType string `json:"compute_type"`
}

// Job is one submitted transcription request and its lifecycle record.
// A job starts queued, is claimed by a worker into processing, and ends
// completed (outputs set) or failed (error set). The retention sweeper
// moves old terminal jobs to expired just before deleting them.
type Job struct {
	ID         string   `json:"id"`
	Filename   string   `json:"filename"`
	SourcePath string   `json:"source_path"`
	Params     Params   `json:"params"`
	State      JobState `json:"state"`
	Progress   float64  `json:"progress"`

	// Outputs maps format name (txt, srt, vtt, json) to artifact path.
	// Populated only when State is completed.
	Outputs map[string]string `json:"outputs"`

	// ErrorMessage is set only when State is failed.
	ErrorMessage string `json:"error_message"`

	Duration            float64 `json:"duration"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Preview             string  `json:"preview"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func NewJob(filename, sourcePath string, params Params) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Filename:   filename,
		SourcePath: sourcePath,
		Params:     params,
		State:      JobStateQueued,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsTerminal reports whether the state admits no further processing.
// Expired is not a resting state: it only exists as the last step before
// deletion from the store.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// ValidTransition reports whether a state change is allowed by the job
// state machine. Queued may fail directly, but only for validation-class
// failures discovered at dequeue time (source vanished) or client cancel.
func ValidTransition(from, to JobState) bool {
	switch from {
	case JobStateQueued:
		return to == JobStateProcessing || to == JobStateFailed
	case JobStateProcessing:
		return to == JobStateCompleted || to == JobStateFailed
	case JobStateCompleted, JobStateFailed:
		return to == JobStateExpired
	default:
		return false
	}
}

func (j *Job) MarkProcessing() {
	j.State = JobStateProcessing
	j.StartedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(outputs map[string]string, t *Transcript) {
	j.State = JobStateCompleted
	j.Progress = 1.0
	j.Outputs = outputs
	if t != nil {
		j.Duration = t.Duration
		j.Language = t.Language
		j.LanguageProbability = t.LanguageProbability
	}
	j.CompletedAt = time.Now().UTC()
}

func (j *Job) MarkFailed(reason string) {
	j.State = JobStateFailed
	j.Progress = 0
	j.ErrorMessage = reason
	j.CompletedAt = time.Now().UTC()
}

// TerminalBefore reports whether the job reached a terminal state before
// cutoff and is therefore eligible for retention cleanup. Queued and
// processing jobs never qualify regardless of age.
func (j *Job) TerminalBefore(cutoff time.Time) bool {
	if !j.State.IsTerminal() {
		return false
	}
	ref := j.CompletedAt
	if ref.IsZero() {
		ref = j.CreatedAt
	}
	return ref.Before(cutoff)
}

func ValidTask(t Task) bool {
	return t == TaskTranscribe || t == TaskTranslate
}

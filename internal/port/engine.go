package port

import (
	"context"

	"github.com/mvailland/scribe/internal/domain"
)

// TranscribeRequest carries one engine invocation.
type TranscribeRequest struct {
	SourcePath string
	Language   string
	Task       domain.Task
	ModelPath  string

	// OnProgress receives best-effort fractional progress in [0,1].
	// May be nil.
	OnProgress func(float64)

	// OnSegment receives each cue as the engine emits it, in order.
	// May be nil.
	OnSegment func(domain.Segment)
}

// Transcriber converts an audio/video file into timed text segments.
// The call blocks for the whole run and honors ctx cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*domain.Transcript, error)
}

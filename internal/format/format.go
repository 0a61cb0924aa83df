// Package format renders an engine transcript into the supported artifact
// formats: plain text, SRT, WebVTT, and a structured JSON document.
package format

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mvailland/scribe/internal/domain"
)

// Names of the supported output formats, as used in artifact maps and the
// download query parameter.
const (
	FormatText = "txt"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
	FormatJSON = "json"
)

// All lists every format produced for a completed job.
var All = []string{FormatText, FormatSRT, FormatVTT, FormatJSON}

func Known(name string) bool {
	for _, f := range All {
		if f == name {
			return true
		}
	}
	return false
}

// Meta is the transcript metadata embedded in the JSON artifact.
type Meta struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	ModelID             string  `json:"model_id"`
	ComputeType         string  `json:"compute_type"`
	Task                string  `json:"task"`
}

// Document is the structured JSON artifact: metadata plus the full
// segment list.
type Document struct {
	Meta     Meta             `json:"meta"`
	Segments []domain.Segment `json:"segments"`
}

// Validate checks the segment invariants the formatters rely on: ascending,
// non-overlapping, strictly positive-duration cues. Violations wrap
// domain.ErrMalformedTranscript; the segments are never re-sorted here.
func Validate(segments []domain.Segment) error {
	prevEnd := 0.0
	for i, seg := range segments {
		if seg.End < seg.Start {
			return fmt.Errorf("%w: segment %d ends at %.3f before it starts at %.3f",
				domain.ErrMalformedTranscript, i, seg.End, seg.Start)
		}
		if seg.End == seg.Start {
			return fmt.Errorf("%w: segment %d has zero duration at %.3f",
				domain.ErrMalformedTranscript, i, seg.Start)
		}
		if seg.Start < prevEnd {
			return fmt.Errorf("%w: segment %d starts at %.3f before previous end %.3f",
				domain.ErrMalformedTranscript, i, seg.Start, prevEnd)
		}
		prevEnd = seg.End
	}
	return nil
}

// NormalizeNewlines converts CRLF/CR and literal backslash-n sequences to
// plain LF.
func NormalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.ReplaceAll(text, `\n`, "\n")
}

// captionText collapses a segment's text to a single line for SRT cues.
func captionText(text string) string {
	var parts []string
	for _, line := range strings.Split(NormalizeNewlines(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

// TimestampSRT renders seconds as HH:MM:SS,mmm.
func TimestampSRT(seconds float64) string {
	return timestamp(seconds, ",")
}

// TimestampVTT renders seconds as HH:MM:SS.mmm.
func TimestampVTT(seconds float64) string {
	return timestamp(seconds, ".")
}

func timestamp(seconds float64, msSep string) string {
	// Round on whole milliseconds so 3661.042 is not truncated to ,041
	// by float representation error.
	totalMs := int(math.Round(seconds * 1000))
	h := totalMs / 3600000
	m := (totalMs % 3600000) / 60000
	s := (totalMs % 60000) / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}

// ToText renders segments as plain text, one line per segment.
func ToText(segments []domain.Segment) string {
	var lines []string
	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		lines = append(lines, strings.TrimSpace(NormalizeNewlines(seg.Text)))
	}
	return strings.Join(lines, "\n")
}

// ToSRT renders segments as SubRip cues, numbered from 1.
func ToSRT(segments []domain.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", TimestampSRT(seg.Start), TimestampSRT(seg.End))
		b.WriteString(captionText(seg.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ToVTT renders segments as WebVTT cues.
func ToVTT(segments []domain.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "%s --> %s\n", TimestampVTT(seg.Start), TimestampVTT(seg.End))
		b.WriteString(strings.TrimSpace(NormalizeNewlines(seg.Text)))
		b.WriteString("\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ToJSON renders the structured document.
func ToJSON(t *domain.Transcript, params domain.Params) ([]byte, error) {
	doc := Document{
		Meta: Meta{
			Language:            t.Language,
			LanguageProbability: t.LanguageProbability,
			Duration:            t.Duration,
			ModelID:             params.ModelID,
			ComputeType:         params.ComputeType,
			Task:                string(params.Task),
		},
		Segments: t.Segments,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// WriteAll validates the transcript and writes every artifact under
// outputDir/{jobID}/transcript.{format}. It is all-or-nothing: on any
// failure the job's output directory is removed and an error returned, so
// a job never exposes partial artifacts.
func WriteAll(outputDir, jobID string, t *domain.Transcript, params domain.Params) (map[string]string, error) {
	if err := Validate(t.Segments); err != nil {
		return nil, err
	}

	jsonBytes, err := ToJSON(t, params)
	if err != nil {
		return nil, fmt.Errorf("encode json artifact: %w", err)
	}

	contents := map[string][]byte{
		FormatText: []byte(ToText(t.Segments)),
		FormatSRT:  []byte(ToSRT(t.Segments)),
		FormatVTT:  []byte(ToVTT(t.Segments)),
		FormatJSON: jsonBytes,
	}

	jobDir := filepath.Join(outputDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	outputs := make(map[string]string, len(contents))
	for _, name := range All {
		path := filepath.Join(jobDir, "transcript."+name)
		if err := os.WriteFile(path, contents[name], 0644); err != nil {
			_ = os.RemoveAll(jobDir)
			return nil, fmt.Errorf("write %s artifact: %w", name, err)
		}
		outputs[name] = path
	}

	return outputs, nil
}

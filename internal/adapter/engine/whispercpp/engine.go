// Package whispercpp adapts the whisper.cpp command-line frontend as the
// transcription engine. It preprocesses input with ffmpeg, streams cue
// lines from whisper-cli's stdout as they are produced, and derives
// progress from cue end times against the ffprobe-measured duration.
package whispercpp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/port"
)

type Engine struct {
	whisperBin string
	ffmpegBin  string
	ffprobeBin string
}

func NewEngine(whisperBin, ffmpegBin, ffprobeBin string) *Engine {
	return &Engine{
		whisperBin: whisperBin,
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
	}
}

// segmentLine matches whisper-cli's streamed cue output:
// [00:00:00.000 --> 00:00:07.560]   text
var segmentLine = regexp.MustCompile(
	`^\[(\d{2,}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2,}):(\d{2}):(\d{2})\.(\d{3})\]\s*(.*)$`)

// detectedLanguage matches whisper.cpp's stderr note when the language is
// auto-detected: "auto-detected language: en (p = 0.958276)"
var detectedLanguage = regexp.MustCompile(
	`auto-detected language: (\w+) \(p = ([0-9.]+)\)`)

func (e *Engine) Transcribe(ctx context.Context, req port.TranscribeRequest) (*domain.Transcript, error) {
	duration := e.probeDuration(ctx, req.SourcePath)

	wavPath, cleanup, err := e.preprocess(ctx, req.SourcePath)
	if err != nil {
		return nil, &domain.EngineError{Stage: "preprocess", Err: err}
	}
	defer cleanup()

	lang := req.Language
	if lang == "" {
		lang = "auto"
	}

	args := []string{
		"-m", req.ModelPath,
		"-l", lang,
		"-f", wavPath,
	}
	if req.Task == domain.TaskTranslate {
		args = append(args, "--translate")
	}

	cmd := exec.CommandContext(ctx, e.whisperBin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.EngineError{Stage: "transcribe", Err: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &domain.EngineError{Stage: "transcribe", Err: err}
	}

	var segments []domain.Segment
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		seg, ok := parseSegmentLine(scanner.Text())
		if !ok {
			continue
		}
		// Zero-duration cues carry no text worth keeping and would
		// violate the formatter's invariants downstream.
		if seg.End <= seg.Start {
			continue
		}
		segments = append(segments, seg)

		if req.OnSegment != nil {
			req.OnSegment(seg)
		}
		if req.OnProgress != nil && duration > 0 {
			req.OnProgress(min(seg.End/duration, 0.99))
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, &domain.EngineError{Stage: "transcribe", Err: ctx.Err()}
		}
		return nil, &domain.EngineError{
			Stage: "transcribe",
			Err:   fmt.Errorf("%w: %s", err, tail(stderr.String(), 500)),
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.EngineError{Stage: "transcribe", Err: err}
	}

	language, probability := req.Language, 1.0
	if m := detectedLanguage.FindStringSubmatch(stderr.String()); m != nil {
		language = m[1]
		if p, err := strconv.ParseFloat(m[2], 64); err == nil {
			probability = p
		}
	}

	return &domain.Transcript{
		Segments:            segments,
		Language:            language,
		LanguageProbability: probability,
		Duration:            duration,
	}, nil
}

// probeDuration returns the media duration in seconds, or 0 when ffprobe
// cannot determine it. A missing duration only degrades progress
// reporting, it never fails the job.
func (e *Engine) probeDuration(ctx context.Context, path string) float64 {
	cmd := exec.CommandContext(ctx, e.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nw=1:nk=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		logger.Warn.Printf("could not determine duration for %s: %v", path, err)
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		logger.Warn.Printf("unparsable ffprobe duration for %s: %v", path, err)
		return 0
	}
	return d
}

// preprocess converts the input to the 16 kHz mono WAV whisper.cpp expects.
func (e *Engine) preprocess(ctx context.Context, inputPath string) (string, func(), error) {
	tempDir, err := os.MkdirTemp("", "scribe-pre-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	wavPath := filepath.Join(tempDir, "audio.wav")
	cmd := exec.CommandContext(ctx, e.ffmpegBin,
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y", wavPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %s", err, tail(stderr.String(), 500))
	}
	return wavPath, cleanup, nil
}

func parseSegmentLine(line string) (domain.Segment, bool) {
	m := segmentLine.FindStringSubmatch(line)
	if m == nil {
		return domain.Segment{}, false
	}
	return domain.Segment{
		Start: timestampSeconds(m[1], m[2], m[3], m[4]),
		End:   timestampSeconds(m[5], m[6], m[7], m[8]),
		Text:  strings.TrimSpace(m[9]),
	}, true
}

func timestampSeconds(h, m, s, ms string) float64 {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ port.Transcriber = (*Engine)(nil)

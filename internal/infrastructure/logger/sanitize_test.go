package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "recording.mp3", "recording.mp3"},
		{"newline injection", "line1\nFAKE LOG ENTRY", `line1\nFAKE LOG ENTRY`},
		{"carriage return", "a\rb", `a\rb`},
		{"tab", "a\tb", `a\tb`},
		{"null byte", "a\x00b", `a\x00b`},
		{"ansi escape", "a\x1b[31mred", `a\x1b[31mred`},
		{"delete char", "a\x7fb", `a\x7fb`},
		{"unicode preserved", "日本語の会議.mp3", "日本語の会議.mp3"},
		{"emoji preserved", "notes🎙️.wav", "notes🎙️.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeForLog(tt.input))
		})
	}
}

func TestSanitizeForLog_TruncatesLongValues(t *testing.T) {
	got := SanitizeForLog(strings.Repeat("a", 1000))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxLogValueLen+3, len(got))
}

package validation

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantExt  string
		wantErr  string
	}{
		{"plain mp3", "podcast.mp3", ".mp3", ""},
		{"uppercase extension", "RECORDING.WAV", ".wav", ""},
		{"video file", "interview.mp4", ".mp4", ""},
		{"unicode name", "会議録音.m4a", ".m4a", ""},
		{"empty name", "", "", "no filename"},
		{"too long", strings.Repeat("a", 300) + ".mp3", "", "too long"},
		{"null byte", "evil\x00.mp3", "", "null byte"},
		{"parent traversal", "../../etc/passwd.mp3", "", "path separators"},
		{"embedded slash", "dir/file.mp3", "", "path separators"},
		{"backslash", `dir\file.mp3`, "", "path separators"},
		{"double dot", "a..b.mp3", "", "path separators"},
		{"no extension", "README", "", "not allowed"},
		{"disallowed extension", "document.pdf", "", "not allowed"},
		{"executable", "payload.exe", "", "not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := CheckFilename(tt.filename)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestClassForExtension(t *testing.T) {
	assert.Equal(t, ClassAudio, ClassForExtension(".mp3"))
	assert.Equal(t, ClassAudio, ClassForExtension(".flac"))
	assert.Equal(t, ClassVideo, ClassForExtension(".mp4"))
	assert.Equal(t, ClassVideo, ClassForExtension(".webm"))
	assert.Equal(t, ClassUnknown, ClassForExtension(".txt"))
	assert.Equal(t, ClassUnknown, ClassForExtension(""))
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	t.Run("plain name stays inside root", func(t *testing.T) {
		path, err := SafeJoin(root, "abc_recording.mp3")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "abc_recording.mp3"), path)
	})

	t.Run("traversal resolves back under root", func(t *testing.T) {
		// The leading-slash clean neutralizes "..": the result must still
		// be inside root, never above it.
		path, err := SafeJoin(root, "../../etc/passwd")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, root+string(filepath.Separator)),
			"resolved path %q must stay under %q", path, root)
	})

	t.Run("absolute name is contained", func(t *testing.T) {
		path, err := SafeJoin(root, "/etc/shadow")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, root+string(filepath.Separator)))
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean name unchanged", "recording.mp3", "recording.mp3"},
		{"quotes replaced", `my"file".mp3`, "my_file_.mp3"},
		{"path separators replaced", "a/b\\c.mp3", "a_b_c.mp3"},
		{"newlines replaced", "head\r\ninjection.mp3", "head__injection.mp3"},
		{"control chars replaced", "a\x01b.mp3", "a_b.mp3"},
		{"unicode preserved", "日本語の録音.mp3", "日本語の録音.mp3"},
		{"empty becomes file", "", "file"},
		{"only dangerous chars becomes file", `"""`, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input))
		})
	}
}

func TestSanitizeFilename_TruncatesPreservingExtension(t *testing.T) {
	long := strings.Repeat("x", 300) + ".flac"
	got := SanitizeFilename(long)

	assert.LessOrEqual(t, len(got), 255)
	assert.True(t, strings.HasSuffix(got, ".flac"), "extension should survive truncation")
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="transcript.srt"`, ContentDisposition("transcript.srt", false))
	assert.Equal(t, `inline; filename="a.txt"`, ContentDisposition("a.txt", true))
	// Header injection attempts are neutralized before quoting.
	assert.Equal(t, `attachment; filename="evil__Set-Cookie_ x.txt"`,
		ContentDisposition("evil\r\nSet-Cookie: x.txt", false))
}

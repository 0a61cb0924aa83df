// Package validation inspects incoming uploads before they are accepted as
// jobs: filename safety, extension allow-listing, and content sniffing.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFilenameLength is the maximum allowed filename length (common filesystem limit).
const maxFilenameLength = 255

// dangerousChars contains characters that must be replaced in filenames.
// These characters can cause HTTP header injection or path traversal attacks.
var dangerousChars = map[rune]bool{
	'"':  true, // Can break Content-Disposition header quotes
	'\\': true, // Path separator on Windows, escape char
	'/':  true, // Path separator
	':':  true, // Windows drive separator, URI scheme
	'\n': true, // HTTP header injection
	'\r': true, // HTTP header injection
}

// audioExts and videoExts are the per-media-class extension allow-lists.
// Anything else is rejected at upload time.
var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".ogg": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".webm": true,
}

// MediaClass is the coarse media category derived from the file extension.
type MediaClass string

const (
	ClassAudio   MediaClass = "audio"
	ClassVideo   MediaClass = "video"
	ClassUnknown MediaClass = ""
)

// ClassForExtension returns the media class for a lowercase extension, or
// ClassUnknown when the extension is not allow-listed.
func ClassForExtension(ext string) MediaClass {
	switch {
	case audioExts[ext]:
		return ClassAudio
	case videoExts[ext]:
		return ClassVideo
	default:
		return ClassUnknown
	}
}

// CheckFilename rejects names that are empty, too long, contain null bytes,
// attempt path traversal, or carry an extension outside the allow-list.
// It returns the normalized (lowercase) extension on success.
func CheckFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no filename provided")
	}
	if len(name) > maxFilenameLength {
		return "", fmt.Errorf("filename too long")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("filename contains null byte")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("filename contains path separators")
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ClassForExtension(ext) == ClassUnknown {
		return "", fmt.Errorf("extension %q not allowed", ext)
	}
	return ext, nil
}

// SafeJoin joins name under root and guarantees the resolved path cannot
// escape root, defending against traversal via `..`, absolute names, and
// embedded separators.
func SafeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean("/" + name) // forces any ".." to resolve against "/"
	joined := filepath.Join(root, cleaned)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes upload root", name)
	}
	return joined, nil
}

// SanitizeFilename sanitizes a filename for safe use in Content-Disposition
// headers and file paths. It:
//   - Replaces dangerous characters (quotes, backslash, newlines, control chars, path separators) with underscore
//   - Preserves Unicode characters (accented letters, CJK, emoji)
//   - Truncates to 255 characters while preserving the file extension
//   - Returns "file" for empty or whitespace-only input
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))

	for _, r := range name {
		if shouldReplace(r) {
			sb.WriteRune('_')
		} else {
			sb.WriteRune(r)
		}
	}

	result := strings.TrimSpace(sb.String())

	if result == "" || isOnlyUnderscores(result) {
		return "file"
	}

	if len(result) > maxFilenameLength {
		result = truncatePreservingExtension(result)
	}

	return result
}

// shouldReplace returns true if the character should be replaced with underscore.
func shouldReplace(r rune) bool {
	// Replace control characters (< 32 and DEL 127)
	if r < 32 || r == 127 {
		return true
	}

	return dangerousChars[r]
}

// isOnlyUnderscores returns true if the string contains only underscores.
func isOnlyUnderscores(s string) bool {
	for _, r := range s {
		if r != '_' {
			return false
		}
	}
	return true
}

// truncatePreservingExtension truncates a filename to maxFilenameLength while
// preserving the file extension if possible.
func truncatePreservingExtension(name string) string {
	ext := filepath.Ext(name)
	extLen := len(ext)

	if extLen == 0 || extLen >= maxFilenameLength {
		return truncateToBytes(name, maxFilenameLength)
	}

	maxBaseLen := maxFilenameLength - extLen
	baseName := name[:len(name)-extLen]

	truncatedBase := truncateToBytes(baseName, maxBaseLen)
	return truncatedBase + ext
}

// truncateToBytes truncates a UTF-8 string to at most maxBytes bytes,
// ensuring we don't cut in the middle of a multi-byte character.
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}

	for maxBytes > 0 && !utf8.ValidString(s[:maxBytes]) {
		maxBytes--
	}

	for maxBytes > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:maxBytes])
		if r != utf8.RuneError {
			break
		}
		maxBytes--
	}

	return s[:maxBytes]
}

// ContentDisposition returns a safe Content-Disposition header value.
// It sanitizes the filename and formats it properly for HTTP headers.
//
// If inline is true, returns "inline; filename=\"...\""
// If inline is false, returns "attachment; filename=\"...\""
func ContentDisposition(filename string, inline bool) string {
	sanitized := SanitizeFilename(filename)

	disposition := "attachment"
	if inline {
		disposition = "inline"
	}

	return fmt.Sprintf("%s; filename=%q", disposition, sanitized)
}

package logger

import (
	"fmt"
	"strings"
)

// maxLogValueLen caps sanitized values so a pathological upload filename
// cannot flood a log line.
const maxLogValueLen = 256

// SanitizeForLog escapes control characters in user-supplied strings
// (filenames, language codes) before they reach the log stream, preventing
// log injection. Unicode text such as CJK filenames passes through intact;
// newlines, tabs, null bytes, ANSI escapes and other control characters are
// rendered as escape sequences. Values longer than maxLogValueLen are
// truncated with an ellipsis.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	n := 0
	for _, r := range s {
		if n >= maxLogValueLen {
			result.WriteString("...")
			break
		}
		n++

		switch r {
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		case '\t':
			result.WriteString("\\t")
		case '\x00':
			result.WriteString("\\x00")
		default:
			if r < 32 || r == 127 {
				result.WriteString(fmt.Sprintf("\\x%02x", r))
			} else {
				result.WriteRune(r)
			}
		}
	}
	return result.String()
}

package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// mimesForExt maps each allow-listed extension to the MIME types its
// content may legitimately sniff as. A detected type outside this set
// means the declared extension lies about the payload.
var mimesForExt = map[string][]string{
	".mp3":  {"audio/mpeg"},
	".wav":  {"audio/wav", "audio/wave", "audio/x-wav"},
	".m4a":  {"audio/mp4", "video/mp4"}, // M4A shares the MP4 container
	".flac": {"audio/flac", "audio/x-flac"},
	".ogg":  {"audio/ogg", "application/ogg"},
	".mp4":  {"video/mp4"},
	".mov":  {"video/quicktime", "video/mp4"},
	".avi":  {"video/avi", "video/x-msvideo"},
	".webm": {"video/webm", "audio/webm"},
}

// magicBytesBufferSize is the number of bytes to read for content type detection.
const magicBytesBufferSize = 512

// CheckContent validates a file's content by reading its magic bytes and
// verifying the detected MIME type is consistent with the declared
// extension. A mismatch is rejected even when the extension alone passed.
//
// The function reads up to 512 bytes from the reader, detects the MIME
// type, and resets the reader position to the beginning.
func CheckContent(reader io.ReadSeeker, ext string) (mime string, err error) {
	buf := make([]byte, magicBytesBufferSize)
	n, err := reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if n == 0 {
		return "", fmt.Errorf("empty file")
	}

	buf = buf[:n]

	// Custom magic bytes first: http.DetectContentType misses several
	// media containers.
	mime = detectCustomMagicBytes(buf)
	if mime == "" {
		mime = http.DetectContentType(buf)
	}
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}

	for _, allowed := range mimesForExt[ext] {
		if mime == allowed {
			return mime, nil
		}
	}
	return mime, fmt.Errorf("content type %s does not match extension %s", mime, ext)
}

// detectCustomMagicBytes handles detection of media types that
// http.DetectContentType may not recognize correctly.
func detectCustomMagicBytes(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	// WebM/Matroska: EBML header (0x1A 0x45 0xDF 0xA3)
	if buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3 {
		return "video/webm"
	}

	// FLAC: starts with "fLaC"
	if buf[0] == 'f' && buf[1] == 'L' && buf[2] == 'a' && buf[3] == 'C' {
		return "audio/flac"
	}

	// MP3 without ID3: MPEG Audio Layer III frame sync
	if buf[0] == 0xFF {
		switch buf[1] & 0xFE {
		case 0xFA, 0xF2: // MPEG1/2 Layer 3
			return "audio/mpeg"
		}
	}

	// ID3 tag (common for MP3): starts with "ID3"
	if buf[0] == 'I' && buf[1] == 'D' && buf[2] == '3' {
		return "audio/mpeg"
	}

	// MP4/QuickTime: ftyp box at offset 4 (bytes 4-7: "ftyp")
	// The format is: [4 bytes size][4 bytes "ftyp"][brand...]
	if len(buf) >= 12 {
		if buf[4] == 'f' && buf[5] == 't' && buf[6] == 'y' && buf[7] == 'p' {
			brand := string(buf[8:12])
			switch brand {
			case "qt  ":
				return "video/quicktime"
			case "M4A ":
				return "audio/mp4"
			default:
				// isom, iso2, mp41, mp42, avc1, M4V and friends
				return "video/mp4"
			}
		}
	}

	// AVI: RIFF....AVI
	if len(buf) >= 12 {
		if buf[0] == 'R' && buf[1] == 'I' && buf[2] == 'F' && buf[3] == 'F' &&
			buf[8] == 'A' && buf[9] == 'V' && buf[10] == 'I' && buf[11] == ' ' {
			return "video/avi"
		}
	}

	return ""
}

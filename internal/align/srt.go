package align

import (
	"fmt"
	"os"
	"strings"
)

// FormatSRT renders the segments as a SubRip document with 1-based
// cue numbering.
func FormatSRT(segments []TextSegment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(s.Start), srtTimestamp(s.End), s.Text)
	}
	return b.String()
}

// WriteSRT writes the segments to path in SubRip format.
func WriteSRT(segments []TextSegment, path string) error {
	return os.WriteFile(path, []byte(FormatSRT(segments)), 0o644)
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(seconds*1000 + 0.5)

	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

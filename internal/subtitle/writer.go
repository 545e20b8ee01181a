package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatTimestamp renders seconds as HH:MM:SS<sep>mmm, rounded to the
// nearest millisecond.
func FormatTimestamp(seconds float64, sep string) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	hours := total / 3_600_000
	minutes := (total / 60_000) % 60
	secs := (total / 1000) % 60
	millis := total % 1000

	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, sep, millis)
}

// ToSRT renders numbered cues separated by blank lines.
func ToSRT(segments []Segment) string {
	lines := make([]string, 0, len(segments)*4)
	for i, seg := range segments {
		lines = append(lines,
			strconv.Itoa(i+1),
			FormatTimestamp(seg.Start, ",")+" --> "+FormatTimestamp(seg.End, ","),
			strings.TrimSpace(seg.Text),
			"",
		)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// ToVTT renders a WebVTT document.
func ToVTT(segments []Segment) string {
	lines := make([]string, 0, 2+len(segments)*3)
	lines = append(lines, "WEBVTT", "")
	for _, seg := range segments {
		lines = append(lines,
			FormatTimestamp(seg.Start, ".")+" --> "+FormatTimestamp(seg.End, "."),
			strings.TrimSpace(seg.Text),
			"",
		)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

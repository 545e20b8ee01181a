package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Segment is one timed piece of a transcript. Times are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Line is a parsed SRT cue.
type Line struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string
}

// File is a parsed subtitle document.
type File struct {
	Lines    []Line
	Language language.Tag
	Format   string
	Path     string
}

// Segments converts cues to segments with times rounded to the millisecond.
func (f *File) Segments() []Segment {
	if f == nil {
		return nil
	}
	ret := make([]Segment, 0, len(f.Lines))
	for _, line := range f.Lines {
		ret = append(ret, Segment{
			Start: durationSeconds(line.StartTime),
			End:   durationSeconds(line.EndTime),
			Text:  line.Text,
		})
	}
	return ret
}

func durationSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

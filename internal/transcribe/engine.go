package transcribe

import (
	"context"
	"strings"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/subtitle"
)

// Request is one transcription call.
type Request struct {
	AudioPath string
	// Language nil means autodetect.
	Language  *string
	BeamSize  int
	VADFilter bool
}

// Result is the full transcription of one input. Times are seconds rounded
// to the millisecond and every text field is trimmed.
type Result struct {
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Text     string             `json:"text"`
	Segments []subtitle.Segment `json:"segments"`
}

// Engine is constructed once per process and shared by every job it runs.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
	Info() jobs.EngineInfo
}

// JoinText concatenates non-empty segment texts with single spaces.
func JoinText(segments []subtitle.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

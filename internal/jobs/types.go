package jobs

import (
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is stamped on every persisted record.
const SchemaVersion = 1

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

type Format string

const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// AllFormats is the canonical export order.
var AllFormats = []Format{FormatJSON, FormatTXT, FormatSRT, FormatVTT}

func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatTXT, FormatSRT, FormatVTT:
		return true
	}
	return false
}

// ErrorArtifactName holds the failure text of a failed job.
const ErrorArtifactName = "error.txt"

// FileName is the artifact name inside a job's storage area.
func (f Format) FileName() string {
	return "result." + string(f)
}

// ContentType is the media type served for the artifact.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatVTT:
		return "text/vtt"
	default:
		return "text/plain"
	}
}

// ParseFormats normalizes raw export format values. Entries may be comma
// separated; an empty selection means every format.
func ParseFormats(raw []string) ([]Format, error) {
	ret := make([]Format, 0, len(AllFormats))
	seen := make(map[Format]bool)
	invalid := make([]string, 0)
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			candidate := strings.ToLower(strings.TrimSpace(part))
			if candidate == "" {
				continue
			}
			f := Format(candidate)
			if !f.Valid() {
				invalid = append(invalid, candidate)
				continue
			}
			if seen[f] {
				continue
			}
			seen[f] = true
			ret = append(ret, f)
		}
	}
	// "string" is the placeholder generated API clients send for an unset field
	if len(ret) == 0 && len(invalid) == 1 && invalid[0] == "string" {
		return append([]Format(nil), AllFormats...), nil
	}
	if len(invalid) > 0 {
		return nil, NewValidation(fmt.Sprintf("invalid export formats: %v", invalid))
	}
	if len(ret) == 0 {
		return append([]Format(nil), AllFormats...), nil
	}
	return ret, nil
}

const (
	MinBeamSize     = 1
	MaxBeamSize     = 10
	DefaultBeamSize = 5
)

// Params are the transcription parameters of one job.
type Params struct {
	Language      *string  `json:"language"`
	BeamSize      int      `json:"beam_size"`
	VADFilter     bool     `json:"vad_filter"`
	ExportFormats []Format `json:"export_formats"`
}

func (p Params) Validate() error {
	if p.BeamSize < MinBeamSize || p.BeamSize > MaxBeamSize {
		return NewValidation(fmt.Sprintf("beam_size must be between %d and %d", MinBeamSize, MaxBeamSize))
	}
	if len(p.ExportFormats) == 0 {
		return NewValidation("at least one export format is required")
	}
	for _, f := range p.ExportFormats {
		if !f.Valid() {
			return NewValidation(fmt.Sprintf("invalid export format: %s", f))
		}
	}
	return nil
}

// Wants reports whether f was requested.
func (p Params) Wants(f Format) bool {
	for _, requested := range p.ExportFormats {
		if requested == f {
			return true
		}
	}
	return false
}

// EngineInfo identifies the transcription engine that processed a job.
type EngineInfo struct {
	Model       string `json:"model,omitempty"`
	Device      string `json:"device,omitempty"`
	ComputeType string `json:"compute_type,omitempty"`
}

type Job struct {
	SchemaVersion int        `json:"schema_version"`
	JobID         string     `json:"job_id"`
	BatchID       string     `json:"batch_id"`
	Filename      string     `json:"filename,omitempty"`
	Status        Status     `json:"status"`
	Revision      int        `json:"revision"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`

	Params

	InputPath   string            `json:"input_path"`
	ResultFiles map[Format]string `json:"result_files"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   Kind              `json:"error_kind,omitempty"`

	ProcessTimeSeconds   *float64 `json:"process_time_seconds,omitempty"`
	AudioDurationSeconds *float64 `json:"audio_duration_seconds,omitempty"`
	DetectedLanguage     string   `json:"detected_language,omitempty"`

	EngineInfo
}

// Clone returns a deep copy safe to mutate.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	tmp := *j
	if j.Language != nil {
		lang := *j.Language
		tmp.Language = &lang
	}
	tmp.ExportFormats = append([]Format(nil), j.ExportFormats...)
	if j.ResultFiles != nil {
		tmp.ResultFiles = make(map[Format]string, len(j.ResultFiles))
		for k, v := range j.ResultFiles {
			tmp.ResultFiles[k] = v
		}
	}
	tmp.StartedAt = cloneTime(j.StartedAt)
	tmp.FinishedAt = cloneTime(j.FinishedAt)
	tmp.ProcessTimeSeconds = cloneFloat(j.ProcessTimeSeconds)
	tmp.AudioDurationSeconds = cloneFloat(j.AudioDurationSeconds)
	return &tmp
}

// Batch is the ordered set of jobs created by one submission. Jobs is fixed
// at creation.
type Batch struct {
	SchemaVersion int       `json:"schema_version"`
	BatchID       string    `json:"batch_id"`
	CreatedAt     time.Time `json:"created_at"`
	Jobs          []string  `json:"jobs"`
	TotalJobs     int       `json:"total_jobs"`
}

// Group references existing batches by id.
type Group struct {
	SchemaVersion int       `json:"schema_version"`
	GroupID       string    `json:"group_id"`
	Name          *string   `json:"name"`
	BatchIDs      []string  `json:"batch_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobIndex resolves a job id to its owning batch.
type JobIndex struct {
	SchemaVersion int    `json:"schema_version"`
	JobID         string `json:"job_id"`
	BatchID       string `json:"batch_id"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

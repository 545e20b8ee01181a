package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
)

const (
	DefaultEmptyPlaceholder   = "[no txt result for this job]"
	MaxEmptyPlaceholderLength = 200

	notAvailable = "N/A"
)

type Label string

const (
	LabelJobID    Label = "job_id"
	LabelFilename Label = "filename"
)

type Separator string

const (
	SeparatorRule  Separator = "rule"
	SeparatorBlank Separator = "blank"
)

func (s Separator) text() string {
	if s == SeparatorBlank {
		return "\n\n"
	}
	return "\n\n---\n\n"
}

func ParseLabel(raw string) (Label, error) {
	switch l := Label(strings.TrimSpace(raw)); l {
	case "":
		return LabelJobID, nil
	case LabelJobID, LabelFilename:
		return l, nil
	}
	return "", jobs.NewValidation(fmt.Sprintf("invalid label: %s", raw))
}

func ParseSeparator(raw string) (Separator, error) {
	switch s := Separator(strings.TrimSpace(raw)); s {
	case "":
		return SeparatorRule, nil
	case SeparatorRule, SeparatorBlank:
		return s, nil
	}
	return "", jobs.NewValidation(fmt.Sprintf("invalid separator: %s", raw))
}

// ReportOptions controls the combined text report.
type ReportOptions struct {
	Label             Label
	IncludeTimestamps bool
	IncludeMetrics    bool
	IncludeEmptyJobs  bool
	EmptyPlaceholder  string
	Separator         Separator
}

func DefaultReportOptions() ReportOptions {
	return ReportOptions{
		Label:            LabelJobID,
		IncludeMetrics:   true,
		EmptyPlaceholder: DefaultEmptyPlaceholder,
		Separator:        SeparatorRule,
	}
}

// SanitizePlaceholder flattens raw to one line of single-spaced words capped
// at MaxEmptyPlaceholderLength runes.
func SanitizePlaceholder(raw string) string {
	flat := strings.NewReplacer("\r", " ", "\n", " ").Replace(raw)
	flat = strings.Join(strings.Fields(flat), " ")
	if flat == "" {
		return DefaultEmptyPlaceholder
	}
	if runes := []rune(flat); len(runes) > MaxEmptyPlaceholderLength {
		flat = string(runes[:MaxEmptyPlaceholderLength])
	}
	return flat
}

// CombinedText concatenates the txt artifact of every job in scope order.
// A report with no sections is a NotFound error.
func (a *Aggregator) CombinedText(ctx context.Context, scope Scope, opts ReportOptions) (string, error) {
	placeholder := SanitizePlaceholder(opts.EmptyPlaceholder)
	sections := make([]string, 0, len(scope.Entries))

	for _, e := range scope.Entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		job, err := a.store.GetJob(ctx, e.BatchID, e.JobID)
		if err != nil {
			if !jobs.IsNotFound(err) {
				return "", err
			}
			job = nil
		}

		content, ok, err := readText(filepath.Join(a.store.JobDir(e.BatchID, e.JobID), jobs.FormatTXT.FileName()))
		if err != nil {
			return "", err
		}
		if !ok {
			if !opts.IncludeEmptyJobs {
				continue
			}
			content = placeholder
		}

		sections = append(sections, section(e, job, content, scope.Grouped, opts))
	}

	if len(sections) == 0 {
		return "", jobs.NewNotFound("no txt results available")
	}
	return strings.Join(sections, opts.Separator.text()), nil
}

func section(e Entry, job *jobs.Job, content string, grouped bool, opts ReportOptions) string {
	header := e.JobID
	if opts.Label == LabelFilename && job != nil && job.Filename != "" {
		header = job.Filename
	}
	if grouped {
		header = e.BatchID + "/" + header
	}

	lines := []string{"## " + header}
	if opts.IncludeMetrics {
		status, elapsed := notAvailable, notAvailable
		if job != nil {
			status = string(job.Status)
			if job.ProcessTimeSeconds != nil {
				elapsed = formatSeconds(*job.ProcessTimeSeconds)
			}
		}
		lines = append(lines, "status: "+status, "process_time_seconds: "+elapsed)
	}
	if opts.IncludeTimestamps {
		created, finished := notAvailable, notAvailable
		if job != nil {
			created = formatTime(&job.CreatedAt)
			finished = formatTime(job.FinishedAt)
		}
		lines = append(lines, "created_at: "+created, "finished_at: "+finished)
	}
	lines = append(lines, "", content)
	return strings.Join(lines, "\n")
}

func readText(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// formatSeconds keeps a decimal point on whole values ("2.0", not "2").
func formatSeconds(v float64) string {
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) || strings.Contains(out, ".") {
		return out
	}
	return out + ".0"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return notAvailable
	}
	return t.UTC().Format(time.RFC3339Nano)
}

package aggregate

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
)

// Entry addresses one job.
type Entry struct {
	BatchID string
	JobID   string
}

// Scope is the ordered set of jobs an export covers. Grouped scopes span
// several batches and prefix names with the batch id.
type Scope struct {
	Entries []Entry
	Grouped bool
}

// ParseFormatSelector maps "all" (or blank) to every format and otherwise
// accepts exactly one known format.
func ParseFormatSelector(raw string) ([]jobs.Format, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" || value == "all" {
		return append([]jobs.Format(nil), jobs.AllFormats...), nil
	}
	f := jobs.Format(value)
	if !f.Valid() {
		return nil, jobs.NewValidation(fmt.Sprintf("invalid format: %s", raw))
	}
	return []jobs.Format{f}, nil
}

// Aggregator builds exports from the artifacts present on disk at call
// time. Nothing is cached.
type Aggregator struct {
	store jobs.Store
}

func New(store jobs.Store) *Aggregator {
	return &Aggregator{store: store}
}

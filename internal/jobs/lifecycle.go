package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Update carries the fields merged by Transition. Zero values leave the
// stored field untouched.
type Update struct {
	Status               Status
	StartedAt            *time.Time
	FinishedAt           *time.Time
	Error                string
	ErrorKind            Kind
	ProcessTimeSeconds   *float64
	AudioDurationSeconds *float64
	DetectedLanguage     string
	ResultFiles          map[Format]string
	Engine               *EngineInfo
}

// Lifecycle owns the job state machine. Transition is the only mutation
// path after creation.
type Lifecycle struct {
	store Store
	now   func() time.Time
	newID func() string

	// per-job locks serialize read-modify-write inside one process; an entry
	// lives only while someone holds or waits on it
	locksMu sync.Mutex
	locks   map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

type LifecycleOption func(*Lifecycle)

func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		l.now = now
	}
}

func WithIDGenerator(newID func() string) LifecycleOption {
	return func(l *Lifecycle) {
		l.newID = newID
	}
}

func NewLifecycle(store Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		locks: make(map[string]*jobLock),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now reads the lifecycle clock.
func (l *Lifecycle) Now() time.Time {
	return l.now()
}

// NewID allocates an opaque identifier.
func (l *Lifecycle) NewID() string {
	return l.newID()
}

// CreateJob allocates a job id and persists a queued job.
func (l *Lifecycle) CreateJob(ctx context.Context, batchID, filename, inputPath string, params Params) (*Job, error) {
	return l.CreateJobWithID(ctx, l.newID(), batchID, filename, inputPath, params)
}

// CreateJobWithID persists a queued job under a caller-allocated id, then
// writes its JobIndex entry. It must complete before the job is dispatched.
func (l *Lifecycle) CreateJobWithID(ctx context.Context, jobID, batchID, filename, inputPath string, params Params) (*Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	now := l.now()
	job := &Job{
		SchemaVersion: SchemaVersion,
		JobID:         jobID,
		BatchID:       batchID,
		Filename:      filename,
		Status:        StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
		Params:        params,
		InputPath:     inputPath,
		ResultFiles:   map[Format]string{},
	}
	if err := l.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job %s: %w", jobID, err)
	}
	if err := l.store.PutJobIndex(ctx, JobIndex{SchemaVersion: SchemaVersion, JobID: jobID, BatchID: batchID}); err != nil {
		return nil, fmt.Errorf("persist job index %s: %w", jobID, err)
	}
	return job.Clone(), nil
}

// Transition loads the job, merges upd, stamps updated_at and persists.
func (l *Lifecycle) Transition(ctx context.Context, batchID, jobID string, upd Update) (*Job, error) {
	unlock := l.lock(jobID)
	defer unlock()

	job, err := l.store.GetJob(ctx, batchID, jobID)
	if err != nil {
		return nil, err
	}

	next := job.Clone()
	if upd.Status != "" {
		if !CanTransition(job.Status, upd.Status) {
			return nil, NewValidation(fmt.Sprintf("invalid transition: %s -> %s", job.Status, upd.Status)).
				WithContext("job_id", jobID)
		}
		next.Status = upd.Status
	} else if job.Status.Terminal() {
		return nil, NewValidation(fmt.Sprintf("job is already %s", job.Status)).WithContext("job_id", jobID)
	}
	merge(next, upd)

	if err := checkInvariants(next); err != nil {
		return nil, err
	}

	next.UpdatedAt = l.now()
	next.Revision = job.Revision + 1
	if err := l.store.PutJob(ctx, next); err != nil {
		return nil, fmt.Errorf("persist job %s: %w", jobID, err)
	}
	return next.Clone(), nil
}

// Get loads a job by id through the JobIndex.
func (l *Lifecycle) Get(ctx context.Context, jobID string) (*Job, error) {
	batchID, err := l.ResolveBatch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job, err := l.store.GetJob(ctx, batchID, jobID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFound("job metadata not found").WithContext("job_id", jobID)
		}
		return nil, err
	}
	return job, nil
}

// ResolveBatch returns the id of the batch owning jobID.
func (l *Lifecycle) ResolveBatch(ctx context.Context, jobID string) (string, error) {
	idx, err := l.store.GetJobIndex(ctx, jobID)
	if err != nil {
		return "", err
	}
	return idx.BatchID, nil
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusDone || to == StatusFailed
	default:
		return false
	}
}

func merge(job *Job, upd Update) {
	if upd.StartedAt != nil {
		job.StartedAt = cloneTime(upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		job.FinishedAt = cloneTime(upd.FinishedAt)
	}
	if upd.Error != "" {
		job.Error = upd.Error
	}
	if upd.ErrorKind != "" {
		job.ErrorKind = upd.ErrorKind
	}
	if upd.ProcessTimeSeconds != nil {
		job.ProcessTimeSeconds = cloneFloat(upd.ProcessTimeSeconds)
	}
	if upd.AudioDurationSeconds != nil {
		job.AudioDurationSeconds = cloneFloat(upd.AudioDurationSeconds)
	}
	if upd.DetectedLanguage != "" {
		job.DetectedLanguage = upd.DetectedLanguage
	}
	if upd.ResultFiles != nil {
		job.ResultFiles = make(map[Format]string, len(upd.ResultFiles))
		for k, v := range upd.ResultFiles {
			job.ResultFiles[k] = v
		}
	}
	if upd.Engine != nil {
		job.EngineInfo = *upd.Engine
	}
}

func checkInvariants(job *Job) error {
	switch job.Status {
	case StatusQueued, StatusProcessing:
		if job.FinishedAt != nil {
			return NewValidation(fmt.Sprintf("%s job cannot have finished_at", job.Status)).WithContext("job_id", job.JobID)
		}
	case StatusDone:
		for _, f := range job.ExportFormats {
			if job.ResultFiles[f] == "" {
				return NewValidation(fmt.Sprintf("done job is missing %s artifact", f)).WithContext("job_id", job.JobID)
			}
		}
	case StatusFailed:
		if job.Error == "" {
			return NewValidation("failed job requires an error").WithContext("job_id", job.JobID)
		}
	}
	return nil
}

func (l *Lifecycle) lock(jobID string) func() {
	l.locksMu.Lock()
	jl, ok := l.locks[jobID]
	if !ok {
		jl = &jobLock{}
		l.locks[jobID] = jl
	}
	jl.refs++
	l.locksMu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()
		l.locksMu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, jobID)
		}
		l.locksMu.Unlock()
	}
}

// heldLocks reports how many job keys currently have a lock entry.
func (l *Lifecycle) heldLocks() int {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	return len(l.locks)
}

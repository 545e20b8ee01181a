package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/aggregate"
	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/pkg/file"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
)

// Input is one uploaded unit of work.
type Input struct {
	Filename string
	Content  io.Reader
}

// FolderRequest selects audio files from a server-local directory.
type FolderRequest struct {
	Path      string
	Recursive bool
	// MaxFiles overrides the configured ceiling when set; it must be >= 1.
	MaxFiles *int
}

type CreatedJob struct {
	JobID    string      `json:"job_id"`
	Filename string      `json:"filename"`
	Status   jobs.Status `json:"status"`
}

// Created describes a newly persisted batch.
type Created struct {
	BatchID      string       `json:"batch_id"`
	Jobs         []CreatedJob `json:"jobs"`
	SourceFolder string       `json:"source_folder,omitempty"`
	MaxFiles     int          `json:"max_files,omitempty"`
}

type FolderPreview struct {
	SourceFolder string   `json:"source_folder"`
	Recursive    bool     `json:"recursive"`
	MaxFiles     int      `json:"max_files"`
	TotalFiles   int      `json:"total_files"`
	ExceedsLimit bool     `json:"exceeds_limit"`
	AudioFiles   []string `json:"audio_files"`
}

// Counts tallies jobs by status.
type Counts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

func (c *Counts) add(status jobs.Status) {
	switch status {
	case jobs.StatusQueued:
		c.Queued++
	case jobs.StatusProcessing:
		c.Processing++
	case jobs.StatusDone:
		c.Done++
	case jobs.StatusFailed:
		c.Failed++
	}
}

func (c *Counts) merge(o Counts) {
	c.Queued += o.Queued
	c.Processing += o.Processing
	c.Done += o.Done
	c.Failed += o.Failed
}

// Terminal is the number of done and failed jobs.
func (c Counts) Terminal() int {
	return c.Done + c.Failed
}

type JobSummary struct {
	JobID     string        `json:"job_id"`
	Filename  string        `json:"filename"`
	Status    jobs.Status   `json:"status"`
	Downloads []jobs.Format `json:"downloads"`
}

// Summary is the status view of one batch.
type Summary struct {
	BatchID   string       `json:"batch_id"`
	CreatedAt time.Time    `json:"created_at"`
	TotalJobs int          `json:"total_jobs"`
	Counts    Counts       `json:"summary"`
	Jobs      []JobSummary `json:"jobs"`
}

// Manager creates batches and reports on them.
type Manager struct {
	store           jobs.Store
	lifecycle       *jobs.Lifecycle
	submitter       dispatch.Submitter
	maxFilesDefault int
}

func NewManager(store jobs.Store, lifecycle *jobs.Lifecycle, submitter dispatch.Submitter, maxFilesDefault int) *Manager {
	return &Manager{
		store:           store,
		lifecycle:       lifecycle,
		submitter:       submitter,
		maxFilesDefault: maxFilesDefault,
	}
}

// MaxFilesDefault is the folder scan ceiling used when a request sets none.
func (m *Manager) MaxFilesDefault() int {
	return m.maxFilesDefault
}

type source struct {
	filename string
	ext      string
	open     func() (io.ReadCloser, error)
}

// CreateBatch persists one job per input and dispatches each. A job whose
// dispatch fails is marked failed without affecting its siblings.
func (m *Manager) CreateBatch(ctx context.Context, inputs []Input, params jobs.Params) (*Created, error) {
	if len(inputs) == 0 {
		return nil, jobs.NewValidation("at least one file is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	sources := make([]source, 0, len(inputs))
	for _, in := range inputs {
		content := in.Content
		sources = append(sources, source{
			filename: in.Filename,
			ext:      filepath.Ext(in.Filename),
			open: func() (io.ReadCloser, error) {
				if content == nil {
					return nil, fmt.Errorf("no content")
				}
				return io.NopCloser(content), nil
			},
		})
	}
	return m.create(ctx, sources, params)
}

// CreateBatchFromFolder scans a directory and creates one job per audio
// file. Every validation happens before the first job is written.
func (m *Manager) CreateBatchFromFolder(ctx context.Context, req FolderRequest, params jobs.Params) (*Created, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	folder, maxFiles, files, err := m.scan(req)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, jobs.NewValidation("no audio files found in folder").WithContext("folder_path", folder)
	}
	if len(files) > maxFiles {
		return nil, jobs.NewValidation(fmt.Sprintf("found %d audio files, exceeds max_files=%d", len(files), maxFiles)).
			WithContext("folder_path", folder)
	}

	sources := make([]source, 0, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		if req.Recursive {
			if rel, err := filepath.Rel(folder, path); err == nil {
				name = filepath.ToSlash(rel)
			}
		}
		p := path
		sources = append(sources, source{
			filename: name,
			ext:      filepath.Ext(path),
			open:     func() (io.ReadCloser, error) { return os.Open(p) },
		})
	}

	created, err := m.create(ctx, sources, params)
	if err != nil {
		return nil, err
	}
	created.SourceFolder = folder
	created.MaxFiles = maxFiles
	return created, nil
}

// PreviewFolder reports what CreateBatchFromFolder would pick up.
func (m *Manager) PreviewFolder(_ context.Context, req FolderRequest) (*FolderPreview, error) {
	folder, maxFiles, files, err := m.scan(req)
	if err != nil {
		return nil, err
	}
	rel := make([]string, 0, len(files))
	for _, path := range files {
		r, err := filepath.Rel(folder, path)
		if err != nil {
			r = filepath.Base(path)
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	return &FolderPreview{
		SourceFolder: folder,
		Recursive:    req.Recursive,
		MaxFiles:     maxFiles,
		TotalFiles:   len(rel),
		ExceedsLimit: len(rel) > maxFiles,
		AudioFiles:   rel,
	}, nil
}

func (m *Manager) scan(req FolderRequest) (string, int, []string, error) {
	maxFiles := m.maxFilesDefault
	if req.MaxFiles != nil {
		if *req.MaxFiles < 1 {
			return "", 0, nil, jobs.NewValidation("max_files must be >= 1")
		}
		maxFiles = *req.MaxFiles
	}

	folder := expandHome(strings.TrimSpace(req.Path))
	info, err := os.Stat(folder)
	if folder == "" || err != nil || !info.IsDir() {
		return "", 0, nil, jobs.NewValidation("folder_path does not exist or is not a directory").
			WithContext("folder_path", req.Path)
	}

	files, err := file.FindByExt(folder, req.Recursive, AllowedExtensions)
	if err != nil {
		return "", 0, nil, jobs.Wrap(err, jobs.KindValidation, "scan folder").WithContext("folder_path", folder)
	}
	return folder, maxFiles, files, nil
}

func (m *Manager) create(ctx context.Context, sources []source, params jobs.Params) (*Created, error) {
	batchID := m.lifecycle.NewID()
	logger := log.WithBatch(batchID)

	created := &Created{BatchID: batchID, Jobs: make([]CreatedJob, 0, len(sources))}
	jobIDs := make([]string, 0, len(sources))
	for _, src := range sources {
		job, err := m.createJob(ctx, batchID, src, params)
		if err != nil {
			if len(jobIDs) > 0 {
				// jobs already dispatched stay reachable through a partial manifest
				logger.Errorf("batch aborted after %d jobs %v: %v", len(jobIDs), jobIDs, err)
				if perr := m.putBatch(ctx, batchID, jobIDs); perr != nil {
					logger.Errorf("persist partial batch: %v", perr)
				}
			}
			return nil, err
		}
		jobIDs = append(jobIDs, job.JobID)
		created.Jobs = append(created.Jobs, CreatedJob{JobID: job.JobID, Filename: job.Filename, Status: job.Status})
	}

	if err := m.putBatch(ctx, batchID, jobIDs); err != nil {
		return nil, err
	}
	logger.Infof("batch created with %d jobs", len(jobIDs))
	return created, nil
}

func (m *Manager) putBatch(ctx context.Context, batchID string, jobIDs []string) error {
	batch := &jobs.Batch{
		SchemaVersion: jobs.SchemaVersion,
		BatchID:       batchID,
		CreatedAt:     m.lifecycle.Now(),
		Jobs:          jobIDs,
		TotalJobs:     len(jobIDs),
	}
	if err := m.store.PutBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist batch %s: %w", batchID, err)
	}
	return nil
}

// createJob stores the input, writes the queued job and dispatches it. Only
// metadata store failures are returned; input and dispatch failures end in
// a failed job.
func (m *Manager) createJob(ctx context.Context, batchID string, src source, params jobs.Params) (*jobs.Job, error) {
	jobID := m.lifecycle.NewID()
	dir := m.store.JobDir(batchID, jobID)
	ext := src.ext
	if ext == "" {
		ext = ".tmp"
	}
	inputPath := filepath.Join(dir, "input"+ext)

	copyErr := copyInput(inputPath, src)

	job, err := m.lifecycle.CreateJobWithID(ctx, jobID, batchID, src.filename, inputPath, params)
	if err != nil {
		return nil, err
	}
	if copyErr != nil {
		return m.fail(ctx, job, jobs.Wrap(copyErr, jobs.KindInvalidInput, "store input file"))
	}

	if err := m.submitter.Submit(ctx, job); err != nil {
		return m.fail(ctx, job, err)
	}
	return job, nil
}

func (m *Manager) fail(ctx context.Context, job *jobs.Job, cause error) (*jobs.Job, error) {
	msg := cause.Error()
	log.WithJob(job.BatchID, job.JobID).Warnf("job failed before dispatch: %s", msg)

	if err := file.WriteAtomic(filepath.Join(m.store.JobDir(job.BatchID, job.JobID), jobs.ErrorArtifactName), []byte(msg)); err != nil {
		log.WithJob(job.BatchID, job.JobID).Errorf("write error artifact: %v", err)
	}
	now := m.lifecycle.Now()
	failed, err := m.lifecycle.Transition(ctx, job.BatchID, job.JobID, jobs.Update{
		Status:     jobs.StatusFailed,
		FinishedAt: &now,
		Error:      msg,
		ErrorKind:  jobs.KindOf(cause),
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

func copyInput(dst string, src source) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	r, err := src.open()
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Status loads a batch and all of its jobs. Job records that cannot be
// found are left out of the listing.
func (m *Manager) Status(ctx context.Context, batchID string) (*Summary, error) {
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		BatchID:   batch.BatchID,
		CreatedAt: batch.CreatedAt,
		TotalJobs: batch.TotalJobs,
		Jobs:      make([]JobSummary, 0, len(batch.Jobs)),
	}
	for _, jobID := range batch.Jobs {
		job, err := m.store.GetJob(ctx, batchID, jobID)
		if err != nil {
			if jobs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		summary.Counts.add(job.Status)
		summary.Jobs = append(summary.Jobs, JobSummary{
			JobID:     job.JobID,
			Filename:  job.Filename,
			Status:    job.Status,
			Downloads: m.AvailableFormats(job),
		})
	}
	return summary, nil
}

// Job loads a job by id.
func (m *Manager) Job(ctx context.Context, jobID string) (*jobs.Job, error) {
	return m.lifecycle.Get(ctx, jobID)
}

// AvailableFormats lists requested formats whose artifact exists on disk.
func (m *Manager) AvailableFormats(job *jobs.Job) []jobs.Format {
	ret := make([]jobs.Format, 0, len(job.ExportFormats))
	dir := m.store.JobDir(job.BatchID, job.JobID)
	for _, f := range job.ExportFormats {
		if isFile(filepath.Join(dir, f.FileName())) {
			ret = append(ret, f)
		}
	}
	return ret
}

// ArtifactPath locates one result artifact of a job.
func (m *Manager) ArtifactPath(ctx context.Context, jobID string, format jobs.Format) (string, error) {
	if !format.Valid() {
		return "", jobs.NewValidation(fmt.Sprintf("invalid format: %s", format))
	}
	batchID, err := m.lifecycle.ResolveBatch(ctx, jobID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.store.JobDir(batchID, jobID), format.FileName())
	if !isFile(path) {
		return "", jobs.NewNotFound(fmt.Sprintf("result '%s' not available", format)).WithContext("job_id", jobID)
	}
	return path, nil
}

// Scope lists the batch's jobs in creation order for aggregation.
func (m *Manager) Scope(ctx context.Context, batchID string) (aggregate.Scope, error) {
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return aggregate.Scope{}, err
	}
	scope := aggregate.Scope{Entries: make([]aggregate.Entry, 0, len(batch.Jobs))}
	for _, jobID := range batch.Jobs {
		scope.Entries = append(scope.Entries, aggregate.Entry{BatchID: batchID, JobID: jobID})
	}
	return scope, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/pkg/file"
)

const (
	batchesDir     = "batches"
	jobIndexDir    = "jobs"
	batchGroupsDir = "batch_groups"

	batchManifestName = "batch.json"
	jobMetaName       = "meta.json"
)

// FileStore keeps one JSON document per record under a data root. Writes go
// to a temp file in the target directory and are renamed into place, so a
// reader sees either the previous or the new version of a record.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("data root is required")
	}
	for _, dir := range []string{batchesDir, jobIndexDir, batchGroupsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) BatchDir(batchID string) string {
	return filepath.Join(s.root, batchesDir, batchID)
}

func (s *FileStore) JobDir(batchID, jobID string) string {
	return filepath.Join(s.BatchDir(batchID), jobID)
}

func (s *FileStore) PutJob(_ context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if !validID(job.BatchID) || !validID(job.JobID) {
		return jobs.NewValidation("invalid job or batch id").WithContext("job_id", job.JobID)
	}
	return writeJSON(filepath.Join(s.JobDir(job.BatchID, job.JobID), jobMetaName), job)
}

func (s *FileStore) GetJob(_ context.Context, batchID, jobID string) (*jobs.Job, error) {
	if !validID(batchID) || !validID(jobID) {
		return nil, jobs.NewNotFound("job not found").WithContext("job_id", jobID)
	}
	var job jobs.Job
	if err := readJSON(filepath.Join(s.JobDir(batchID, jobID), jobMetaName), &job); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, jobs.NewNotFound("job not found").WithContext("job_id", jobID)
		}
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if job.ResultFiles == nil {
		job.ResultFiles = map[jobs.Format]string{}
	}
	return &job, nil
}

func (s *FileStore) PutBatch(_ context.Context, batch *jobs.Batch) error {
	if batch == nil {
		return fmt.Errorf("batch is nil")
	}
	if !validID(batch.BatchID) {
		return jobs.NewValidation("invalid batch id").WithContext("batch_id", batch.BatchID)
	}
	return writeJSON(filepath.Join(s.BatchDir(batch.BatchID), batchManifestName), batch)
}

func (s *FileStore) GetBatch(_ context.Context, batchID string) (*jobs.Batch, error) {
	if !validID(batchID) {
		return nil, jobs.NewNotFound("batch_id not found").WithContext("batch_id", batchID)
	}
	var batch jobs.Batch
	if err := readJSON(filepath.Join(s.BatchDir(batchID), batchManifestName), &batch); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, jobs.NewNotFound("batch_id not found").WithContext("batch_id", batchID)
		}
		return nil, fmt.Errorf("read batch %s: %w", batchID, err)
	}
	return &batch, nil
}

func (s *FileStore) BatchExists(_ context.Context, batchID string) (bool, error) {
	if !validID(batchID) {
		return false, nil
	}
	return fileExists(filepath.Join(s.BatchDir(batchID), batchManifestName))
}

func (s *FileStore) PutGroup(_ context.Context, group *jobs.Group) error {
	if group == nil {
		return fmt.Errorf("group is nil")
	}
	if !validID(group.GroupID) {
		return jobs.NewValidation("invalid group id").WithContext("group_id", group.GroupID)
	}
	return writeJSON(s.groupPath(group.GroupID), group)
}

func (s *FileStore) GetGroup(_ context.Context, groupID string) (*jobs.Group, error) {
	if !validID(groupID) {
		return nil, jobs.NewNotFound("group_id not found").WithContext("group_id", groupID)
	}
	var group jobs.Group
	if err := readJSON(s.groupPath(groupID), &group); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, jobs.NewNotFound("group_id not found").WithContext("group_id", groupID)
		}
		return nil, fmt.Errorf("read group %s: %w", groupID, err)
	}
	return &group, nil
}

func (s *FileStore) PutJobIndex(_ context.Context, idx jobs.JobIndex) error {
	if !validID(idx.JobID) || !validID(idx.BatchID) {
		return jobs.NewValidation("invalid job index").WithContext("job_id", idx.JobID)
	}
	return writeJSON(s.jobIndexPath(idx.JobID), idx)
}

func (s *FileStore) GetJobIndex(_ context.Context, jobID string) (jobs.JobIndex, error) {
	if !validID(jobID) {
		return jobs.JobIndex{}, jobs.NewNotFound("job_id not found").WithContext("job_id", jobID)
	}
	var idx jobs.JobIndex
	if err := readJSON(s.jobIndexPath(jobID), &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return jobs.JobIndex{}, jobs.NewNotFound("job_id not found").WithContext("job_id", jobID)
		}
		return jobs.JobIndex{}, fmt.Errorf("read job index %s: %w", jobID, err)
	}
	if idx.BatchID == "" {
		return jobs.JobIndex{}, jobs.NewNotFound("job_id not found").WithContext("job_id", jobID)
	}
	return idx, nil
}

func (s *FileStore) groupPath(groupID string) string {
	return filepath.Join(s.root, batchGroupsDir, groupID+".json")
}

func (s *FileStore) jobIndexPath(jobID string) string {
	return filepath.Join(s.root, jobIndexDir, jobID+".json")
}

// validID rejects ids that would escape their directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, 0)
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return file.WriteAtomic(path, buf.Bytes())
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

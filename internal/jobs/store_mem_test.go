package jobs

import (
	"context"
	"path/filepath"
	"sync"
)

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	batches map[string]*Batch
	groups  map[string]*Group
	index   map[string]JobIndex
	puts    int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*Job),
		batches: make(map[string]*Batch),
		groups:  make(map[string]*Group),
		index:   make(map[string]JobIndex),
	}
}

func (s *memStore) PutJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.BatchID+"/"+job.JobID] = job.Clone()
	s.puts++
	return nil
}

func (s *memStore) GetJob(_ context.Context, batchID, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[batchID+"/"+jobID]
	if !ok {
		return nil, NewNotFound("job not found").WithContext("job_id", jobID)
	}
	return job.Clone(), nil
}

func (s *memStore) PutBatch(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := *batch
	s.batches[batch.BatchID] = &tmp
	return nil
}

func (s *memStore) GetBatch(_ context.Context, batchID string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, NewNotFound("batch_id not found")
	}
	tmp := *b
	return &tmp, nil
}

func (s *memStore) BatchExists(_ context.Context, batchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[batchID]
	return ok, nil
}

func (s *memStore) PutGroup(_ context.Context, group *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := *group
	s.groups[group.GroupID] = &tmp
	return nil
}

func (s *memStore) GetGroup(_ context.Context, groupID string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, NewNotFound("group_id not found")
	}
	tmp := *g
	return &tmp, nil
}

func (s *memStore) PutJobIndex(_ context.Context, idx JobIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[idx.JobID] = idx
	return nil
}

func (s *memStore) GetJobIndex(_ context.Context, jobID string) (JobIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[jobID]
	if !ok {
		return JobIndex{}, NewNotFound("job_id not found")
	}
	return idx, nil
}

func (s *memStore) JobDir(batchID, jobID string) string {
	return filepath.Join("mem", batchID, jobID)
}

package jobs

import "context"

// Store persists Job, Batch, Group and JobIndex records. Every put is atomic
// per record; there is no locking across records. Lookups of unknown ids
// return a KindNotFound error.
type Store interface {
	PutJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, batchID, jobID string) (*Job, error)

	PutBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	BatchExists(ctx context.Context, batchID string) (bool, error)

	PutGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, groupID string) (*Group, error)

	PutJobIndex(ctx context.Context, idx JobIndex) error
	GetJobIndex(ctx context.Context, jobID string) (JobIndex, error)

	// JobDir is the job's private storage area for inputs and artifacts.
	JobDir(batchID, jobID string) string
}

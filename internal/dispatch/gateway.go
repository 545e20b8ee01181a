package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
)

// ErrDuplicate is returned by a Broker when a message with the same key is
// still outstanding.
var ErrDuplicate = errors.New("message key already outstanding")

// Message is the payload handed to the broker for one job.
type Message struct {
	JobID     string      `json:"job_id"`
	BatchID   string      `json:"batch_id"`
	InputPath string      `json:"input_path"`
	Params    jobs.Params `json:"params"`
}

// Delivery is a message claimed by one worker.
type Delivery struct {
	Key        string
	Payload    []byte
	EnqueuedAt time.Time
	ClaimedAt  time.Time
	ClaimedBy  string
}

// Decode unmarshals the delivery payload.
func (d *Delivery) Decode() (Message, error) {
	var msg Message
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode delivery %s: %w", d.Key, err)
	}
	return msg, nil
}

// Broker is the work queue between the API process and workers. A message
// is delivered to exactly one Claim caller.
type Broker interface {
	Enqueue(ctx context.Context, key string, payload []byte) error
	// Claim returns nil, nil when nothing is ready.
	Claim(ctx context.Context, workerID string) (*Delivery, error)
	Ack(ctx context.Context, key string) error
	// Stale lists deliveries claimed at or before now-olderThan and not acked.
	Stale(ctx context.Context, olderThan time.Duration) ([]Delivery, error)
}

// Submitter hands jobs to the broker.
type Submitter interface {
	Submit(ctx context.Context, job *jobs.Job) error
}

type Gateway struct {
	broker  Broker
	timeout time.Duration
}

func NewGateway(broker Broker, timeout time.Duration) *Gateway {
	return &Gateway{broker: broker, timeout: timeout}
}

// Submit enqueues the job keyed by its own id. Failures are returned as
// KindSubmission errors and never retried here.
func (g *Gateway) Submit(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return jobs.NewError(jobs.KindSubmission, "job is nil")
	}
	payload, err := json.Marshal(Message{
		JobID:     job.JobID,
		BatchID:   job.BatchID,
		InputPath: job.InputPath,
		Params:    job.Params,
	})
	if err != nil {
		return jobs.Wrap(err, jobs.KindSubmission, "encode dispatch message")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.broker.Enqueue(ctx, job.JobID, payload); err != nil {
		return jobs.Wrap(err, jobs.KindSubmission, "enqueue job").WithContext("job_id", job.JobID)
	}
	return nil
}

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	key         string
	payload     []byte
	err         error
	hadDeadline bool
}

func (f *fakeBroker) Enqueue(ctx context.Context, key string, payload []byte) error {
	_, f.hadDeadline = ctx.Deadline()
	f.key = key
	f.payload = payload
	return f.err
}

func (f *fakeBroker) Claim(context.Context, string) (*Delivery, error) { return nil, nil }
func (f *fakeBroker) Ack(context.Context, string) error               { return nil }
func (f *fakeBroker) Stale(context.Context, time.Duration) ([]Delivery, error) {
	return nil, nil
}

func TestGateway_SubmitEncodesMessage(t *testing.T) {
	broker := &fakeBroker{}
	gw := NewGateway(broker, 5*time.Second)
	lang := "en"
	job := &jobs.Job{
		JobID:     "job-1",
		BatchID:   "batch-1",
		InputPath: "/data/batches/batch-1/job-1/input.wav",
		Params: jobs.Params{
			Language:      &lang,
			BeamSize:      3,
			VADFilter:     true,
			ExportFormats: []jobs.Format{jobs.FormatSRT},
		},
	}

	require.NoError(t, gw.Submit(context.Background(), job))
	assert.Equal(t, "job-1", broker.key)
	assert.True(t, broker.hadDeadline)

	msg, err := (&Delivery{Key: broker.key, Payload: broker.payload}).Decode()
	require.NoError(t, err)
	assert.Equal(t, Message{JobID: "job-1", BatchID: "batch-1", InputPath: job.InputPath, Params: job.Params}, msg)
}

func TestGateway_NoTimeoutLeavesContextAlone(t *testing.T) {
	broker := &fakeBroker{}
	gw := NewGateway(broker, 0)

	require.NoError(t, gw.Submit(context.Background(), &jobs.Job{JobID: "job-1", BatchID: "b"}))
	assert.False(t, broker.hadDeadline)
}

func TestGateway_FailureIsSubmissionKind(t *testing.T) {
	broker := &fakeBroker{err: ErrDuplicate}
	gw := NewGateway(broker, time.Second)

	err := gw.Submit(context.Background(), &jobs.Job{JobID: "job-1", BatchID: "b"})
	require.Error(t, err)
	assert.True(t, jobs.IsKind(err, jobs.KindSubmission))
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Contains(t, err.Error(), "job_id=job-1")

	assert.True(t, jobs.IsKind(gw.Submit(context.Background(), nil), jobs.KindSubmission))
}

func TestDelivery_DecodeRejectsGarbage(t *testing.T) {
	_, err := (&Delivery{Key: "k", Payload: []byte("not json")}).Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode delivery k")
}

package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createBatch(t *testing.T, e *env, names ...string) *Created {
	t.Helper()
	inputs := make([]Input, 0, len(names))
	for _, n := range names {
		inputs = append(inputs, Input{Filename: n, Content: strings.NewReader(n)})
	}
	created, err := e.manager.CreateBatch(context.Background(), inputs, defaultParams(t))
	require.NoError(t, err)
	return created
}

func finish(t *testing.T, e *env, batchID, jobID string, status jobs.Status) {
	t.Helper()
	ctx := context.Background()
	_, err := e.lifecycle.Transition(ctx, batchID, jobID, jobs.Update{Status: jobs.StatusProcessing})
	require.NoError(t, err)
	if status == jobs.StatusProcessing {
		return
	}
	now := time.Now().UTC()
	upd := jobs.Update{Status: status, FinishedAt: &now}
	if status == jobs.StatusFailed {
		upd.Error = "engine crashed"
	} else {
		upd.ResultFiles = map[jobs.Format]string{}
		for _, f := range jobs.AllFormats {
			p := filepath.Join(e.store.JobDir(batchID, jobID), f.FileName())
			require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
			upd.ResultFiles[f] = p
		}
	}
	_, err = e.lifecycle.Transition(ctx, batchID, jobID, upd)
	require.NoError(t, err)
}

func TestCreateGroup_DedupsAndValidates(t *testing.T) {
	e := newEnv(t, 10)
	ctx := context.Background()
	b1 := createBatch(t, e, "a.wav")
	b2 := createBatch(t, e, "b.wav")

	name := "weekly"
	group, err := e.groups.CreateGroup(ctx, []string{" " + b2.BatchID, b1.BatchID, b2.BatchID, ""}, &name)
	require.NoError(t, err)
	assert.Equal(t, []string{b2.BatchID, b1.BatchID}, group.BatchIDs)
	assert.Equal(t, jobs.SchemaVersion, group.SchemaVersion)

	stored, err := e.store.GetGroup(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, group.BatchIDs, stored.BatchIDs)

	_, err = e.groups.CreateGroup(ctx, []string{" ", ""}, nil)
	assert.True(t, jobs.IsKind(err, jobs.KindValidation))

	_, err = e.groups.CreateGroup(ctx, []string{b1.BatchID, "missing-1", "missing-2"}, nil)
	require.Error(t, err)
	assert.True(t, jobs.IsNotFound(err))
	assert.Contains(t, err.Error(), "missing-1")
	assert.Contains(t, err.Error(), "missing-2")
}

func TestGroupStatus_CompletedOnlyWhenAllTerminal(t *testing.T) {
	e := newEnv(t, 10)
	ctx := context.Background()
	b1 := createBatch(t, e, "a.wav", "b.wav")
	b2 := createBatch(t, e, "c.wav")

	group, err := e.groups.CreateGroup(ctx, []string{b1.BatchID, b2.BatchID}, nil)
	require.NoError(t, err)

	finish(t, e, b1.BatchID, b1.Jobs[0].JobID, jobs.StatusDone)
	finish(t, e, b1.BatchID, b1.Jobs[1].JobID, jobs.StatusFailed)
	finish(t, e, b2.BatchID, b2.Jobs[0].JobID, jobs.StatusProcessing)

	status, err := e.groups.Status(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.TotalJobs)
	assert.Equal(t, 2, status.TotalBatches)
	assert.Equal(t, Counts{Processing: 1, Done: 1, Failed: 1}, status.Counts)
	assert.False(t, status.Completed)
	require.Len(t, status.Batches, 2)
	assert.Equal(t, b1.BatchID, status.Batches[0].BatchID)
	assert.Equal(t, Counts{Done: 1, Failed: 1}, status.Batches[0].Counts)

	now := time.Now().UTC()
	_, err = e.lifecycle.Transition(ctx, b2.BatchID, b2.Jobs[0].JobID, jobs.Update{
		Status: jobs.StatusFailed, FinishedAt: &now, Error: "boom",
	})
	require.NoError(t, err)

	status, err = e.groups.Status(ctx, group.GroupID)
	require.NoError(t, err)
	assert.True(t, status.Completed)
}

func TestGroupScope_OrdersByBatchThenJob(t *testing.T) {
	e := newEnv(t, 10)
	ctx := context.Background()
	b1 := createBatch(t, e, "a.wav", "b.wav")
	b2 := createBatch(t, e, "c.wav")

	group, err := e.groups.CreateGroup(ctx, []string{b2.BatchID, b1.BatchID}, nil)
	require.NoError(t, err)

	scope, err := e.groups.Scope(ctx, group.GroupID)
	require.NoError(t, err)
	assert.True(t, scope.Grouped)
	require.Len(t, scope.Entries, 3)
	assert.Equal(t, b2.Jobs[0].JobID, scope.Entries[0].JobID)
	assert.Equal(t, b1.Jobs[0].JobID, scope.Entries[1].JobID)
	assert.Equal(t, b1.Jobs[1].JobID, scope.Entries[2].JobID)
}

func TestGroupStatus_UnknownGroup(t *testing.T) {
	e := newEnv(t, 10)
	_, err := e.groups.Status(context.Background(), "nope")
	assert.True(t, jobs.IsNotFound(err))
}

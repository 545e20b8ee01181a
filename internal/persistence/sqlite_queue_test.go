package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), "transcriptions")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestSQLiteQueue_EnqueueClaimAck(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", []byte(`{"job_id":"job-1"}`)))

	d, err := q.Claim(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.Key)
	assert.Equal(t, `{"job_id":"job-1"}`, string(d.Payload))
	assert.Equal(t, "worker-a", d.ClaimedBy)

	empty, err := q.Claim(ctx, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, q.Ack(ctx, "job-1"))
	require.Error(t, q.Ack(ctx, "job-1"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Acked: 1}, stats)
}

func TestSQLiteQueue_RejectsOutstandingDuplicateKey(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", []byte(`{}`)))
	err := q.Enqueue(ctx, "job-1", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrDuplicate))

	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	err = q.Enqueue(ctx, "job-1", []byte(`{}`))
	assert.True(t, errors.Is(err, dispatch.ErrDuplicate))

	require.NoError(t, q.Ack(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-1", []byte(`{}`)))
}

func TestSQLiteQueue_ClaimsInEnqueueOrder(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, key, []byte(`{}`)))
	}

	got := make([]string, 0, 3)
	for range 3 {
		d, err := q.Claim(ctx, "w")
		require.NoError(t, err)
		require.NotNil(t, d)
		got = append(got, d.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSQLiteQueue_ConcurrentClaimsDeliverOnce(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx := context.Background()
	const n = 20
	for i := range n {
		require.NoError(t, q.Enqueue(ctx, string(rune('A'+i)), []byte(`{}`)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				d, err := q.Claim(ctx, "worker")
				if err != nil || d == nil {
					return
				}
				mu.Lock()
				seen[d.Key]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seen, n)
	for key, count := range seen {
		assert.Equal(t, 1, count, "key %s delivered more than once", key)
	}
}

func TestSQLiteQueue_StaleListsOldClaims(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	require.NoError(t, q.Enqueue(ctx, "job-1", []byte(`{}`)))
	_, err := q.Claim(ctx, "w")
	require.NoError(t, err)

	q.now = func() time.Time { return base.Add(30 * time.Minute) }
	stale, err := q.Stale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	q.now = func() time.Time { return base.Add(2 * time.Hour) }
	stale, err = q.Stale(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "job-1", stale[0].Key)
	assert.Equal(t, base, stale[0].ClaimedAt)
}

func TestSQLiteQueue_ReopenKeepsMessages(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := NewSQLiteQueue(path, "transcriptions")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), "job-1", []byte(`{}`)))
	require.NoError(t, q.Close())

	reopened, err := NewSQLiteQueue(path, "transcriptions")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	d, err := reopened.Claim(context.Background(), "w")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.Key)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_dispatch_queue.sql"))
	assert.Equal(t, 12, migrationVersion("12"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}

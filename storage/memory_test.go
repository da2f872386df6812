package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-scheduler/types"
)

func newTestMemoryStorage(t *testing.T) types.StorageManager {
	t.Helper()

	ms, err := NewMemoryStorage(context.Background(), newNopLogger())
	require.NoError(t, err)
	require.NoError(t, ms.Start())
	t.Cleanup(func() { _ = ms.Stop() })

	return ms
}

func TestMemoryJobStoreInsertAndList(t *testing.T) {
	ms := newTestMemoryStorage(t)
	ctx := context.Background()

	first := types.Job{ID: "a", Name: "backup", Type: types.ScheduleDaily, Time: "14:30", Enabled: true}
	second := types.Job{ID: "b", Name: "report", Type: types.ScheduleHourly, Time: "15", Enabled: true}

	require.NoError(t, ms.Jobs().Insert(ctx, first))
	require.NoError(t, ms.Jobs().Insert(ctx, second))

	jobs, err := ms.Jobs().List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)

	err = ms.Jobs().Insert(ctx, first)
	assert.Error(t, err)
}

func TestMemoryJobStoreUpdate(t *testing.T) {
	ms := newTestMemoryStorage(t)
	ctx := context.Background()

	job := types.Job{ID: "a", Name: "backup", Type: types.ScheduleDaily, Time: "14:30", Enabled: true}
	require.NoError(t, ms.Jobs().Insert(ctx, job))

	now := time.Now()
	job.Enabled = false
	job.LastRun = &now
	job.NextRun = nil
	require.NoError(t, ms.Jobs().Update(ctx, job))

	jobs, err := ms.Jobs().List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Enabled)
	require.NotNil(t, jobs[0].LastRun)
	assert.Nil(t, jobs[0].NextRun)

	err = ms.Jobs().Update(ctx, types.Job{ID: "missing"})
	assert.True(t, types.IsError(err, types.ErrJobNotFound))
}

func TestMemoryRunStoreListNewestFirst(t *testing.T) {
	ms := newTestMemoryStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		entry := types.LogEntry{
			ID:      string(rune('a' + i)),
			JobID:   "job",
			Status:  types.RunSuccess,
			RunTime: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, ms.Runs().Append(ctx, entry))
	}

	entries, err := ms.Runs().List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "a", entries[2].ID)
}

func TestMemoryRunStorePrune(t *testing.T) {
	ms := newTestMemoryStorage(t)
	ctx := context.Background()

	old := types.LogEntry{ID: "old", JobID: "job", Status: types.RunSuccess, RunTime: time.Now().Add(-48 * time.Hour)}
	recent := types.LogEntry{ID: "recent", JobID: "job", Status: types.RunSuccess, RunTime: time.Now()}
	require.NoError(t, ms.Runs().Append(ctx, old))
	require.NoError(t, ms.Runs().Append(ctx, recent))

	pruned, err := ms.Runs().Prune(ctx, 0, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	entries, err := ms.Runs().List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].ID)

	for i := 0; i < 5; i++ {
		entry := types.LogEntry{
			ID:      string(rune('0' + i)),
			JobID:   "job",
			Status:  types.RunSuccess,
			RunTime: time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, ms.Runs().Append(ctx, entry))
	}

	pruned, err = ms.Runs().Prune(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pruned)

	entries, err = ms.Runs().List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

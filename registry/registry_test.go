package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/storage"
	"github.com/saiset-co/sai-scheduler/types"
)

func newTestRegistry(t *testing.T) (*Registry, types.StorageManager) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	ms, err := storage.NewMemoryStorage(context.Background(), log)
	require.NoError(t, err)
	require.NoError(t, ms.Start())
	t.Cleanup(func() { _ = ms.Stop() })

	return NewRegistry(ms.Jobs(), log, time.UTC), ms
}

func TestCreateValidatesBeforePersisting(t *testing.T) {
	reg, ms := newTestRegistry(t)

	_, err := reg.Create("bad", types.ScheduleDaily, "25:00")
	assert.True(t, types.IsError(err, types.ErrInvalidScheduleFormat))

	_, err = reg.Create("", types.ScheduleDaily, "14:30")
	assert.True(t, types.IsError(err, types.ErrJobNameIsEmpty))

	stored, err := ms.Jobs().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCreateComputesNextRun(t *testing.T) {
	reg, ms := newTestRegistry(t)
	reg.now = func() time.Time { return time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC) }

	job, err := reg.Create("backup", types.ScheduleHourly, "15")
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.True(t, job.Enabled)
	assert.Nil(t, job.LastRun)
	require.NotNil(t, job.NextRun)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 15, 0, 0, time.UTC), *job.NextRun)

	stored, err := ms.Jobs().List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, job.ID, stored[0].ID)
}

func TestListKeepsCreationOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)

	first, err := reg.Create("first", types.ScheduleHourly, "0")
	require.NoError(t, err)
	second, err := reg.Create("second", types.ScheduleDaily, "14:30")
	require.NoError(t, err)

	jobs := reg.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestToggle(t *testing.T) {
	reg, _ := newTestRegistry(t)

	job, err := reg.Create("backup", types.ScheduleDaily, "14:30")
	require.NoError(t, err)

	disabled, err := reg.Toggle(job.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Nil(t, disabled.NextRun)

	enabled, err := reg.Toggle(job.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	require.NotNil(t, enabled.NextRun)
	assert.True(t, enabled.NextRun.After(time.Now().Add(-time.Second)))

	_, err = reg.Toggle("missing")
	assert.True(t, types.IsError(err, types.ErrJobNotFound))
}

func TestRecordRunAnchorsToCompletionTime(t *testing.T) {
	reg, _ := newTestRegistry(t)

	job, err := reg.Create("backup", types.ScheduleHourly, "15")
	require.NoError(t, err)

	completedAt := time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)
	require.NoError(t, reg.RecordRun(job.ID, completedAt))

	updated, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
	assert.Equal(t, completedAt, *updated.LastRun)
	require.NotNil(t, updated.NextRun)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 15, 0, 0, time.UTC), *updated.NextRun)
}

func TestRecordRunOnDisabledJobKeepsNextRunNil(t *testing.T) {
	reg, _ := newTestRegistry(t)

	job, err := reg.Create("backup", types.ScheduleHourly, "15")
	require.NoError(t, err)

	_, err = reg.Toggle(job.ID)
	require.NoError(t, err)

	require.NoError(t, reg.RecordRun(job.ID, time.Now()))

	updated, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastRun)
	assert.Nil(t, updated.NextRun)
}

func TestLoadReArmsStaleJobs(t *testing.T) {
	reg, ms := newTestRegistry(t)

	stale := time.Now().Add(-2 * time.Hour)
	job := types.Job{
		ID:      "stale",
		Name:    "backup",
		Type:    types.ScheduleHourly,
		Time:    "15",
		Enabled: true,
		NextRun: &stale,
	}
	require.NoError(t, ms.Jobs().Insert(context.Background(), job))

	disabledJob := types.Job{
		ID:      "off",
		Name:    "report",
		Type:    types.ScheduleDaily,
		Time:    "14:30",
		Enabled: false,
	}
	require.NoError(t, ms.Jobs().Insert(context.Background(), disabledJob))

	require.NoError(t, reg.Load(context.Background()))

	loaded, err := reg.Get("stale")
	require.NoError(t, err)
	require.NotNil(t, loaded.NextRun)
	assert.True(t, loaded.NextRun.After(time.Now()))

	off, err := reg.Get("off")
	require.NoError(t, err)
	assert.Nil(t, off.NextRun)
}

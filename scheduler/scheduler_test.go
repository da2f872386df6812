package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/types"
)

type staticConfig struct {
	config *types.ServiceConfig
}

func (c *staticConfig) Load() error                              { return nil }
func (c *staticConfig) GetConfig() *types.ServiceConfig          { return c.config }
func (c *staticConfig) GetValue(string, interface{}) interface{} { return nil }
func (c *staticConfig) GetAs(string, interface{}) error          { return nil }

type fakeRegistry struct {
	mu   sync.Mutex
	jobs []types.Job
}

func (r *fakeRegistry) Create(string, types.ScheduleType, string) (types.Job, error) {
	return types.Job{}, nil
}
func (r *fakeRegistry) Get(string) (types.Job, error)       { return types.Job{}, nil }
func (r *fakeRegistry) Toggle(string) (types.Job, error)    { return types.Job{}, nil }
func (r *fakeRegistry) RecordRun(string, time.Time) error   { return nil }
func (r *fakeRegistry) Load(context.Context) error          { return nil }

func (r *fakeRegistry) List() []types.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Job(nil), r.jobs...)
}

func (r *fakeRegistry) disarm(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.jobs {
		if r.jobs[i].ID == id {
			r.jobs[i].NextRun = nil
		}
	}
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	onRun    func(job types.Job)
	err      error
}

func (e *fakeExecutor) Execute(_ context.Context, job types.Job) (types.LogEntry, error) {
	e.mu.Lock()
	e.executed = append(e.executed, job.ID)
	e.mu.Unlock()

	if e.onRun != nil {
		e.onRun(job)
	}
	if e.err != nil {
		return types.LogEntry{}, e.err
	}
	return types.LogEntry{JobID: job.ID, Status: types.RunSuccess}, nil
}

func (e *fakeExecutor) executedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func newTestManager(t *testing.T, reg *fakeRegistry, exec *fakeExecutor) *Manager {
	t.Helper()

	config := &staticConfig{config: &types.ServiceConfig{
		Scheduler: &types.SchedulerConfig{
			Enabled:         true,
			PollInterval:    20 * time.Millisecond,
			Workers:         2,
			QueueSize:       8,
			ShutdownTimeout: time.Second,
		},
	}}

	log := logger.NewZapWrapper(zap.NewNop())

	manager, err := NewManager(context.Background(), config, log, nil, reg, exec)
	require.NoError(t, err)

	return manager.(*Manager)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSchedulerDispatchesDueJobs(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	reg := &fakeRegistry{jobs: []types.Job{
		{ID: "due", Name: "due-job", Enabled: true, NextRun: &past},
	}}
	exec := &fakeExecutor{}
	exec.onRun = func(job types.Job) { reg.disarm(job.ID) }

	m := newTestManager(t, reg, exec)
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	waitFor(t, time.Second, func() bool { return len(exec.executedIDs()) >= 1 })
	assert.Contains(t, exec.executedIDs(), "due")
}

func TestSchedulerSkipsDisabledAndUnarmedJobs(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	reg := &fakeRegistry{jobs: []types.Job{
		{ID: "disabled", Name: "disabled-job", Enabled: false, NextRun: &past},
		{ID: "unarmed", Name: "unarmed-job", Enabled: true, NextRun: nil},
		{ID: "future", Name: "future-job", Enabled: true, NextRun: &future},
	}}
	exec := &fakeExecutor{}

	m := newTestManager(t, reg, exec)
	require.NoError(t, m.Start())

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Stop())

	assert.Empty(t, exec.executedIDs())
}

func TestSchedulerToleratesAlreadyRunning(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	reg := &fakeRegistry{jobs: []types.Job{
		{ID: "busy", Name: "busy-job", Enabled: true, NextRun: &past},
	}}
	exec := &fakeExecutor{err: types.ErrJobAlreadyRunning}

	m := newTestManager(t, reg, exec)
	require.NoError(t, m.Start())

	waitFor(t, time.Second, func() bool { return len(exec.executedIDs()) >= 2 })
	require.NoError(t, m.Stop())
}

func TestSchedulerLifecycle(t *testing.T) {
	reg := &fakeRegistry{}
	exec := &fakeExecutor{}

	m := newTestManager(t, reg, exec)

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	err := m.Start()
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrServiceIsRunning))

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())

	err = m.Stop()
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrServerNotRunning))
}

func TestSchedulerUnknownTimezoneFallsBack(t *testing.T) {
	config := &staticConfig{config: &types.ServiceConfig{
		Scheduler: &types.SchedulerConfig{Timezone: "Not/AZone"},
	}}

	log := logger.NewZapWrapper(zap.NewNop())
	manager, err := NewManager(context.Background(), config, log, nil, &fakeRegistry{}, &fakeExecutor{})
	require.NoError(t, err)

	assert.Equal(t, time.UTC, manager.(*Manager).timezone)
}

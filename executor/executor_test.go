package executor

import (
	"context"
	"io"
	"strings"
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

type recordingRegistry struct {
	mu       sync.Mutex
	recorded []string
}

func (r *recordingRegistry) Create(string, types.ScheduleType, string) (types.Job, error) {
	return types.Job{}, nil
}
func (r *recordingRegistry) Get(string) (types.Job, error)    { return types.Job{}, nil }
func (r *recordingRegistry) List() []types.Job                { return nil }
func (r *recordingRegistry) Toggle(string) (types.Job, error) { return types.Job{}, nil }
func (r *recordingRegistry) Load(context.Context) error       { return nil }

func (r *recordingRegistry) RecordRun(id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, id)
	return nil
}

func (r *recordingRegistry) recordedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recorded...)
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

func (h *recordingHistory) Append(_ context.Context, entry types.LogEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

func (h *recordingHistory) List(context.Context) ([]types.LogEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.LogEntry(nil), h.entries...), nil
}

type funcTask struct {
	run func(ctx context.Context, job types.Job, out io.Writer) error
}

func (t *funcTask) Type() string { return "test" }

func (t *funcTask) Run(ctx context.Context, job types.Job, out io.Writer) error {
	return t.run(ctx, job, out)
}

func newTestExecutor(t *testing.T, task Task, timeout time.Duration, maxOutput int) (*Executor, *recordingRegistry, *recordingHistory) {
	t.Helper()

	config := &staticConfig{config: &types.ServiceConfig{
		Executor: &types.ExecutorConfig{Timeout: timeout, MaxOutputBytes: maxOutput},
	}}

	reg := &recordingRegistry{}
	hist := &recordingHistory{}
	tasks := &TaskSet{defaultTask: task}

	log := logger.NewZapWrapper(zap.NewNop())
	exec := NewExecutor(context.Background(), config, log, nil, reg, hist, tasks)
	t.Cleanup(exec.Shutdown)

	return exec, reg, hist
}

func TestExecuteSuccessRecordsRun(t *testing.T) {
	task := &funcTask{run: func(_ context.Context, job types.Job, out io.Writer) error {
		_, err := out.Write([]byte("done"))
		return err
	}}

	exec, reg, hist := newTestExecutor(t, task, time.Second, 1024)
	job := types.Job{ID: "job-1", Name: "nightly"}

	entry, err := exec.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, types.RunSuccess, entry.Status)
	assert.Equal(t, "job-1", entry.JobID)
	assert.Equal(t, "nightly", entry.JobName)
	assert.Equal(t, "done", entry.Output)
	assert.Empty(t, entry.Error)
	assert.NotEmpty(t, entry.ID)

	assert.Equal(t, []string{"job-1"}, reg.recordedIDs())

	entries, err := hist.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestExecuteFailureRecordsError(t *testing.T) {
	task := &funcTask{run: func(context.Context, types.Job, io.Writer) error {
		return types.NewErrorf("disk on fire")
	}}

	exec, reg, _ := newTestExecutor(t, task, time.Second, 1024)

	entry, err := exec.Execute(context.Background(), types.Job{ID: "job-2", Name: "backup"})
	require.NoError(t, err)

	assert.Equal(t, types.RunFailure, entry.Status)
	assert.Contains(t, entry.Error, "disk on fire")
	assert.Equal(t, []string{"job-2"}, reg.recordedIDs())
}

func TestExecuteTimeout(t *testing.T) {
	task := &funcTask{run: func(ctx context.Context, _ types.Job, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	exec, reg, hist := newTestExecutor(t, task, 50*time.Millisecond, 1024)

	entry, err := exec.Execute(context.Background(), types.Job{ID: "job-3", Name: "slow"})
	require.NoError(t, err)

	assert.Equal(t, types.RunTimeout, entry.Status)
	assert.Contains(t, entry.Error, "timeout")
	assert.Equal(t, []string{"job-3"}, reg.recordedIDs())

	entries, err := hist.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.RunTimeout, entries[0].Status)
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	task := &funcTask{run: func(context.Context, types.Job, io.Writer) error {
		panic("unexpected state")
	}}

	exec, _, hist := newTestExecutor(t, task, time.Second, 1024)

	entry, err := exec.Execute(context.Background(), types.Job{ID: "job-4", Name: "flaky"})
	require.NoError(t, err)

	assert.Equal(t, types.RunFailure, entry.Status)
	assert.Contains(t, entry.Error, "unexpected state")

	entries, err := hist.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExecuteSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var startedOnce sync.Once
	task := &funcTask{run: func(ctx context.Context, _ types.Job, _ io.Writer) error {
		startedOnce.Do(func() { close(started) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	exec, _, _ := newTestExecutor(t, task, 5*time.Second, 1024)
	job := types.Job{ID: "job-5", Name: "long"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = exec.Execute(context.Background(), job)
	}()

	<-started

	_, err := exec.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrJobAlreadyRunning))

	close(release)
	wg.Wait()

	// the job slot is free again once the first run finishes
	entry, err := exec.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, types.RunSuccess, entry.Status)
}

func TestExecuteTruncatesOutput(t *testing.T) {
	task := &funcTask{run: func(_ context.Context, _ types.Job, out io.Writer) error {
		_, err := out.Write([]byte(strings.Repeat("x", 100)))
		return err
	}}

	exec, _, _ := newTestExecutor(t, task, time.Second, 32)

	entry, err := exec.Execute(context.Background(), types.Job{ID: "job-6", Name: "chatty"})
	require.NoError(t, err)

	assert.Equal(t, types.RunSuccess, entry.Status)
	assert.True(t, strings.HasSuffix(entry.Output, truncationMarker))
	assert.Equal(t, strings.Repeat("x", 32)+truncationMarker, entry.Output)
}

func TestExecuteAfterShutdown(t *testing.T) {
	task := &funcTask{run: func(context.Context, types.Job, io.Writer) error { return nil }}

	exec, _, _ := newTestExecutor(t, task, time.Second, 1024)
	exec.Shutdown()

	_, err := exec.Execute(context.Background(), types.Job{ID: "job-7", Name: "late"})
	require.Error(t, err)
	assert.True(t, types.IsError(err, types.ErrSchedulerStopped))
}

func TestBoundedBufferExactFit(t *testing.T) {
	buf := newBoundedBuffer(4)

	n, err := buf.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", buf.String())
}

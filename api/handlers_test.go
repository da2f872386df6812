package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/types"
)

type fakeRegistry struct {
	jobs      map[string]types.Job
	createErr error
}

func (f *fakeRegistry) Create(name string, scheduleType types.ScheduleType, rawTime string) (types.Job, error) {
	if f.createErr != nil {
		return types.Job{}, f.createErr
	}
	job := types.Job{ID: "job-1", Name: name, Type: scheduleType, Time: rawTime, Enabled: true}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeRegistry) Get(id string) (types.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return types.Job{}, types.Errorf(types.ErrJobNotFound, "id: %s", id)
	}
	return job, nil
}

func (f *fakeRegistry) List() []types.Job {
	jobs := make([]types.Job, 0, len(f.jobs))
	for _, job := range f.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

func (f *fakeRegistry) Toggle(id string) (types.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return types.Job{}, types.Errorf(types.ErrJobNotFound, "id: %s", id)
	}
	job.Enabled = !job.Enabled
	f.jobs[id] = job
	return job, nil
}

func (f *fakeRegistry) RecordRun(id string, completedAt time.Time) error { return nil }

func (f *fakeRegistry) Load(ctx context.Context) error { return nil }

type fakeHistory struct {
	entries []types.LogEntry
	listErr error
}

func (f *fakeHistory) Append(ctx context.Context, entry types.LogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistory) List(ctx context.Context) ([]types.LogEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entries, nil
}

type fakeExecutor struct {
	err   error
	entry types.LogEntry
}

func (f *fakeExecutor) Execute(ctx context.Context, job types.Job) (types.LogEntry, error) {
	if f.err != nil {
		return types.LogEntry{}, f.err
	}
	f.entry.JobID = job.ID
	f.entry.JobName = job.Name
	return f.entry, nil
}

func newTestHandler(registry *fakeRegistry, history *fakeHistory, executor *fakeExecutor) *Handler {
	log := logger.NewZapWrapper(zap.NewNop())
	return NewHandler(context.Background(), log, nil, registry, history, executor)
}

func newRequestCtx(method, path string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestCreateJobReturnsCreated(t *testing.T) {
	registry := &fakeRegistry{jobs: make(map[string]types.Job)}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	body := []byte(`{"name":"backup","type":"daily","time":"03:30"}`)
	ctx := newRequestCtx("POST", "/jobs", body)

	handler.handleCreateJob(ctx)

	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	var job types.Job
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &job))
	assert.Equal(t, "backup", job.Name)
	assert.True(t, job.Enabled)
}

func TestCreateJobInvalidScheduleIsBadRequest(t *testing.T) {
	registry := &fakeRegistry{
		jobs:      make(map[string]types.Job),
		createErr: types.Errorf(types.ErrInvalidScheduleFormat, "time: 99:99"),
	}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	ctx := newRequestCtx("POST", "/jobs", []byte(`{"name":"backup","type":"daily","time":"99:99"}`))

	handler.handleCreateJob(ctx)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCreateJobMalformedBodyIsBadRequest(t *testing.T) {
	registry := &fakeRegistry{jobs: make(map[string]types.Job)}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	ctx := newRequestCtx("POST", "/jobs", []byte(`{not json`))

	handler.handleCreateJob(ctx)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestToggleUnknownJobIsNotFound(t *testing.T) {
	registry := &fakeRegistry{jobs: make(map[string]types.Job)}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	ctx := newRequestCtx("POST", "/jobs/nope/toggle", nil)
	ctx.SetUserValue("id", "nope")

	handler.handleToggleJob(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestToggleFlipsEnabled(t *testing.T) {
	registry := &fakeRegistry{jobs: map[string]types.Job{
		"job-1": {ID: "job-1", Name: "backup", Enabled: true},
	}}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	ctx := newRequestCtx("POST", "/jobs/job-1/toggle", nil)
	ctx.SetUserValue("id", "job-1")

	handler.handleToggleJob(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var job types.Job
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &job))
	assert.False(t, job.Enabled)
}

func TestRunJobReturnsLogEntry(t *testing.T) {
	registry := &fakeRegistry{jobs: map[string]types.Job{
		"job-1": {ID: "job-1", Name: "backup", Enabled: true},
	}}
	executor := &fakeExecutor{entry: types.LogEntry{ID: "run-1", Status: types.RunSuccess, Output: "done"}}
	handler := newTestHandler(registry, &fakeHistory{}, executor)

	ctx := newRequestCtx("POST", "/jobs/job-1/run", nil)
	ctx.SetUserValue("id", "job-1")

	handler.handleRunJob(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var entry types.LogEntry
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &entry))
	assert.Equal(t, "job-1", entry.JobID)
	assert.Equal(t, types.RunSuccess, entry.Status)
}

func TestRunJobAlreadyRunningIsConflict(t *testing.T) {
	registry := &fakeRegistry{jobs: map[string]types.Job{
		"job-1": {ID: "job-1", Name: "backup", Enabled: true},
	}}
	executor := &fakeExecutor{err: types.Errorf(types.ErrJobAlreadyRunning, "job: backup")}
	handler := newTestHandler(registry, &fakeHistory{}, executor)

	ctx := newRequestCtx("POST", "/jobs/job-1/run", nil)
	ctx.SetUserValue("id", "job-1")

	handler.handleRunJob(ctx)

	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())
}

func TestRunJobUnknownIdIsNotFound(t *testing.T) {
	registry := &fakeRegistry{jobs: make(map[string]types.Job)}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	ctx := newRequestCtx("POST", "/jobs/ghost/run", nil)
	ctx.SetUserValue("id", "ghost")

	handler.handleRunJob(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestListLogsReturnsEntries(t *testing.T) {
	history := &fakeHistory{entries: []types.LogEntry{
		{ID: "run-2", JobName: "backup", Status: types.RunFailure},
		{ID: "run-1", JobName: "backup", Status: types.RunSuccess},
	}}
	handler := newTestHandler(&fakeRegistry{jobs: make(map[string]types.Job)}, history, &fakeExecutor{})

	ctx := newRequestCtx("GET", "/logs", nil)

	handler.handleListLogs(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var entries []types.LogEntry
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "run-2", entries[0].ID)
}

func TestListJobsReturnsJobs(t *testing.T) {
	registry := &fakeRegistry{jobs: map[string]types.Job{
		"job-1": {ID: "job-1", Name: "backup", Enabled: true},
	}}
	handler := newTestHandler(registry, &fakeHistory{}, &fakeExecutor{})

	ctx := newRequestCtx("GET", "/jobs", nil)

	handler.handleListJobs(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var jobs []types.Job
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "backup", jobs[0].Name)
}

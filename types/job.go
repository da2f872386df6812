package types

import (
	"context"
	"time"
)

type ScheduleType string

const (
	ScheduleHourly ScheduleType = "hourly"
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
)

type RunStatus string

const (
	RunSuccess  RunStatus = "success"
	RunFailure  RunStatus = "failure"
	RunTimeout  RunStatus = "timeout"
	RunCanceled RunStatus = "canceled"
)

type Job struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Type    ScheduleType `json:"type"`
	Time    string       `json:"time"`
	Enabled bool         `json:"enabled"`
	LastRun *time.Time   `json:"last_run"`
	NextRun *time.Time   `json:"next_run"`
}

type LogEntry struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	JobName    string    `json:"job_name"`
	Status     RunStatus `json:"status"`
	RunTime    time.Time `json:"run_time"`
	DurationMS int64     `json:"duration_ms"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
}

type JobRegistry interface {
	Create(name string, scheduleType ScheduleType, rawTime string) (Job, error)
	Get(id string) (Job, error)
	List() []Job
	Toggle(id string) (Job, error)
	RecordRun(id string, completedAt time.Time) error
	Load(ctx context.Context) error
}

type JobExecutor interface {
	Execute(ctx context.Context, job Job) (LogEntry, error)
}

type RunHistory interface {
	Append(ctx context.Context, entry LogEntry) error
	List(ctx context.Context) ([]LogEntry, error)
}

type SchedulerManager interface {
	LifecycleManager
}

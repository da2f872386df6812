package storage

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	schedule_time TEXT NOT NULL,
	enabled       INTEGER NOT NULL,
	last_run      TEXT,
	next_run      TEXT
);
CREATE TABLE IF NOT EXISTS run_logs (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	job_name    TEXT NOT NULL,
	status      TEXT NOT NULL,
	run_time    TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	output      TEXT NOT NULL,
	error       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_logs_run_time ON run_logs(run_time);
`

type SQLiteStorage struct {
	db     *sql.DB
	logger types.Logger
	config *types.StorageConfig
	jobs   *sqliteJobStore
	runs   *sqliteRunStore
	state  atomic.Value
}

func NewSQLiteStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.StorageManager, error) {
	path := config.Path
	if path == "" {
		path = "jobs.db"
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}

	// sqlite handles a single writer; serialize through one connection
	db.SetMaxOpenConns(1)

	ss := &SQLiteStorage{
		db:     db,
		logger: logger,
		config: config,
		jobs:   &sqliteJobStore{db: db},
		runs:   &sqliteRunStore{db: db},
	}

	ss.state.Store(StateStopped)
	return ss, nil
}

func (ss *SQLiteStorage) Start() error {
	if !ss.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if ss.getState() == StateStarting {
			ss.setState(StateRunning)
		}
	}()

	if err := ss.db.Ping(); err != nil {
		ss.setState(StateStopped)
		return types.WrapError(err, "failed to ping sqlite database")
	}

	if _, err := ss.db.Exec(jobsSchema); err != nil {
		ss.setState(StateStopped)
		return types.WrapError(err, "failed to apply sqlite schema")
	}

	ss.logger.Info("SQLite storage started", zap.String("path", ss.config.Path))
	return nil
}

func (ss *SQLiteStorage) Stop() error {
	if !ss.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		ss.setState(StateStopped)
	}()

	if err := ss.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	ss.logger.Info("SQLite storage stopped gracefully")
	return nil
}

func (ss *SQLiteStorage) IsRunning() bool {
	return ss.getState() == StateRunning
}

func (ss *SQLiteStorage) Jobs() types.JobStore {
	return ss.jobs
}

func (ss *SQLiteStorage) Runs() types.RunStore {
	return ss.runs
}

func (ss *SQLiteStorage) getState() State {
	return ss.state.Load().(State)
}

func (ss *SQLiteStorage) setState(newState State) bool {
	currentState := ss.getState()
	return ss.state.CompareAndSwap(currentState, newState)
}

func (ss *SQLiteStorage) transitionState(from, to State) bool {
	return ss.state.CompareAndSwap(from, to)
}

type sqliteJobStore struct {
	db *sql.DB
}

func (s *sqliteJobStore) Insert(ctx context.Context, job types.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, schedule_type, schedule_time, enabled, last_run, next_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Type), job.Time, boolToInt(job.Enabled),
		timeToNullString(job.LastRun), timeToNullString(job.NextRun))
	if err != nil {
		return types.WrapError(err, "failed to insert job")
	}
	return nil
}

func (s *sqliteJobStore) Update(ctx context.Context, job types.Job) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name = ?, schedule_type = ?, schedule_time = ?, enabled = ?, last_run = ?, next_run = ?
		 WHERE id = ?`,
		job.Name, string(job.Type), job.Time, boolToInt(job.Enabled),
		timeToNullString(job.LastRun), timeToNullString(job.NextRun), job.ID)
	if err != nil {
		return types.WrapError(err, "failed to update job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(err, "failed to check update result")
	}
	if affected == 0 {
		return types.Errorf(types.ErrJobNotFound, "id: %s", job.ID)
	}
	return nil
}

func (s *sqliteJobStore) List(ctx context.Context) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, schedule_type, schedule_time, enabled, last_run, next_run
		 FROM jobs ORDER BY rowid`)
	if err != nil {
		return nil, types.WrapError(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		var job types.Job
		var scheduleType string
		var enabled int
		var lastRun, nextRun sql.NullString

		if err := rows.Scan(&job.ID, &job.Name, &scheduleType, &job.Time, &enabled, &lastRun, &nextRun); err != nil {
			return nil, types.WrapError(err, "failed to scan job row")
		}

		job.Type = types.ScheduleType(scheduleType)
		job.Enabled = enabled != 0

		if job.LastRun, err = nullStringToTime(lastRun); err != nil {
			return nil, types.WrapError(err, "failed to parse last_run")
		}
		if job.NextRun, err = nullStringToTime(nextRun); err != nil {
			return nil, types.WrapError(err, "failed to parse next_run")
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

type sqliteRunStore struct {
	db *sql.DB
}

func (s *sqliteRunStore) Append(ctx context.Context, entry types.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (id, job_id, job_name, status, run_time, duration_ms, output, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.JobName, string(entry.Status),
		entry.RunTime.Format(time.RFC3339Nano), entry.DurationMS, entry.Output, entry.Error)
	if err != nil {
		return types.WrapError(err, "failed to append run log")
	}
	return nil
}

func (s *sqliteRunStore) List(ctx context.Context) ([]types.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, job_name, status, run_time, duration_ms, output, error
		 FROM run_logs ORDER BY run_time DESC, rowid DESC`)
	if err != nil {
		return nil, types.WrapError(err, "failed to list run logs")
	}
	defer rows.Close()

	var entries []types.LogEntry
	for rows.Next() {
		var entry types.LogEntry
		var status, runTime string

		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.JobName, &status, &runTime, &entry.DurationMS, &entry.Output, &entry.Error); err != nil {
			return nil, types.WrapError(err, "failed to scan run log row")
		}

		entry.Status = types.RunStatus(status)
		entry.RunTime, err = time.Parse(time.RFC3339Nano, runTime)
		if err != nil {
			return nil, types.WrapError(err, "failed to parse run_time")
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *sqliteRunStore) Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int64, error) {
	var pruned int64

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).Format(time.RFC3339Nano)
		result, err := s.db.ExecContext(ctx, `DELETE FROM run_logs WHERE run_time < ?`, cutoff)
		if err != nil {
			return pruned, types.WrapError(err, "failed to prune run logs by age")
		}
		if affected, err := result.RowsAffected(); err == nil {
			pruned += affected
		}
	}

	if maxEntries > 0 {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM run_logs WHERE id NOT IN (
				SELECT id FROM run_logs ORDER BY run_time DESC, rowid DESC LIMIT ?
			)`, maxEntries)
		if err != nil {
			return pruned, types.WrapError(err, "failed to prune run logs by count")
		}
		if affected, err := result.RowsAffected(); err == nil {
			pruned += affected
		}
	}

	return pruned, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

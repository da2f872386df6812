package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
)

const (
	jobsCollection = "jobs"
	runsCollection = "run_logs"
)

type CloverStorage struct {
	db     *clover.DB
	logger types.Logger
	config *types.StorageConfig
	jobs   *cloverJobStore
	runs   *cloverRunStore
	state  atomic.Value
}

func NewCloverStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.StorageManager, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	cs := &CloverStorage{
		db:     db,
		logger: logger,
		config: config,
		jobs:   &cloverJobStore{db: db},
		runs:   &cloverRunStore{db: db},
	}

	cs.state.Store(StateStopped)
	return cs, nil
}

func (cs *CloverStorage) Start() error {
	if !cs.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if cs.getState() == StateStarting {
			cs.setState(StateRunning)
		}
	}()

	for _, collection := range []string{jobsCollection, runsCollection} {
		exists, err := cs.db.HasCollection(collection)
		if err != nil {
			cs.setState(StateStopped)
			return types.WrapError(err, "failed to check collection existence")
		}
		if !exists {
			if err := cs.db.CreateCollection(collection); err != nil {
				cs.setState(StateStopped)
				return types.WrapError(err, "failed to create collection")
			}
		}
	}

	cs.logger.Info("Clover storage started", zap.String("path", cs.config.Path))
	return nil
}

func (cs *CloverStorage) Stop() error {
	if !cs.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cs.setState(StateStopped)
	}()

	if err := cs.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	cs.logger.Info("Clover storage stopped gracefully")
	return nil
}

func (cs *CloverStorage) IsRunning() bool {
	return cs.getState() == StateRunning
}

func (cs *CloverStorage) Jobs() types.JobStore {
	return cs.jobs
}

func (cs *CloverStorage) Runs() types.RunStore {
	return cs.runs
}

func (cs *CloverStorage) getState() State {
	return cs.state.Load().(State)
}

func (cs *CloverStorage) setState(newState State) bool {
	currentState := cs.getState()
	return cs.state.CompareAndSwap(currentState, newState)
}

func (cs *CloverStorage) transitionState(from, to State) bool {
	return cs.state.CompareAndSwap(from, to)
}

type cloverJobStore struct {
	db *clover.DB
}

func (s *cloverJobStore) Insert(ctx context.Context, job types.Job) error {
	doc := clover.NewDocument()
	doc.Set("id", job.ID)
	doc.Set("name", job.Name)
	doc.Set("schedule_type", string(job.Type))
	doc.Set("schedule_time", job.Time)
	doc.Set("enabled", job.Enabled)
	doc.Set("last_run", timeToDocValue(job.LastRun))
	doc.Set("next_run", timeToDocValue(job.NextRun))
	doc.Set("cr_time", time.Now().UnixNano())

	if err := s.db.Insert(jobsCollection, doc); err != nil {
		return types.WrapError(err, "failed to insert job")
	}
	return nil
}

func (s *cloverJobStore) Update(ctx context.Context, job types.Job) error {
	query := s.db.Query(jobsCollection).Where(clover.Field("id").Eq(job.ID))

	count, err := query.Count()
	if err != nil {
		return types.WrapError(err, "failed to find job")
	}
	if count == 0 {
		return types.Errorf(types.ErrJobNotFound, "id: %s", job.ID)
	}

	err = query.Update(map[string]interface{}{
		"name":          job.Name,
		"schedule_type": string(job.Type),
		"schedule_time": job.Time,
		"enabled":       job.Enabled,
		"last_run":      timeToDocValue(job.LastRun),
		"next_run":      timeToDocValue(job.NextRun),
	})
	if err != nil {
		return types.WrapError(err, "failed to update job")
	}
	return nil
}

func (s *cloverJobStore) List(ctx context.Context) ([]types.Job, error) {
	docs, err := s.db.Query(jobsCollection).
		Sort(clover.SortOption{Field: "cr_time", Direction: 1}).
		FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to list jobs")
	}

	jobs := make([]types.Job, 0, len(docs))
	for _, doc := range docs {
		job := types.Job{
			ID:      docString(doc, "id"),
			Name:    docString(doc, "name"),
			Type:    types.ScheduleType(docString(doc, "schedule_type")),
			Time:    docString(doc, "schedule_time"),
			Enabled: docBool(doc, "enabled"),
		}

		if job.LastRun, err = docTime(doc, "last_run"); err != nil {
			return nil, types.WrapError(err, "failed to parse last_run")
		}
		if job.NextRun, err = docTime(doc, "next_run"); err != nil {
			return nil, types.WrapError(err, "failed to parse next_run")
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

type cloverRunStore struct {
	db *clover.DB
}

func (s *cloverRunStore) Append(ctx context.Context, entry types.LogEntry) error {
	doc := clover.NewDocument()
	doc.Set("id", entry.ID)
	doc.Set("job_id", entry.JobID)
	doc.Set("job_name", entry.JobName)
	doc.Set("status", string(entry.Status))
	doc.Set("run_time", entry.RunTime.Format(time.RFC3339Nano))
	doc.Set("run_time_ns", entry.RunTime.UnixNano())
	doc.Set("duration_ms", entry.DurationMS)
	doc.Set("output", entry.Output)
	doc.Set("error", entry.Error)

	if err := s.db.Insert(runsCollection, doc); err != nil {
		return types.WrapError(err, "failed to append run log")
	}
	return nil
}

func (s *cloverRunStore) List(ctx context.Context) ([]types.LogEntry, error) {
	docs, err := s.db.Query(runsCollection).
		Sort(clover.SortOption{Field: "run_time_ns", Direction: -1}).
		FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to list run logs")
	}

	entries := make([]types.LogEntry, 0, len(docs))
	for _, doc := range docs {
		runTime, err := time.Parse(time.RFC3339Nano, docString(doc, "run_time"))
		if err != nil {
			return nil, types.WrapError(err, "failed to parse run_time")
		}

		entries = append(entries, types.LogEntry{
			ID:         docString(doc, "id"),
			JobID:      docString(doc, "job_id"),
			JobName:    docString(doc, "job_name"),
			Status:     types.RunStatus(docString(doc, "status")),
			RunTime:    runTime,
			DurationMS: docInt64(doc, "duration_ms"),
			Output:     docString(doc, "output"),
			Error:      docString(doc, "error"),
		})
	}

	return entries, nil
}

func (s *cloverRunStore) Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int64, error) {
	var pruned int64

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixNano()
		query := s.db.Query(runsCollection).Where(clover.Field("run_time_ns").Lt(cutoff))

		count, err := query.Count()
		if err != nil {
			return pruned, types.WrapError(err, "failed to count expired run logs")
		}
		if count > 0 {
			if err := query.Delete(); err != nil {
				return pruned, types.WrapError(err, "failed to prune run logs by age")
			}
			pruned += int64(count)
		}
	}

	if maxEntries > 0 {
		total, err := s.db.Query(runsCollection).Count()
		if err != nil {
			return pruned, types.WrapError(err, "failed to count run logs")
		}

		if total > maxEntries {
			oldest, err := s.db.Query(runsCollection).
				Sort(clover.SortOption{Field: "run_time_ns", Direction: 1}).
				Limit(total - maxEntries).
				FindAll()
			if err != nil {
				return pruned, types.WrapError(err, "failed to find oldest run logs")
			}

			for _, doc := range oldest {
				if err := s.db.Query(runsCollection).DeleteById(doc.ObjectId()); err != nil {
					return pruned, types.WrapError(err, "failed to delete run log")
				}
				pruned++
			}
		}
	}

	return pruned, nil
}

func timeToDocValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func docString(doc *clover.Document, field string) string {
	if v, ok := doc.Get(field).(string); ok {
		return v
	}
	return ""
}

func docBool(doc *clover.Document, field string) bool {
	if v, ok := doc.Get(field).(bool); ok {
		return v
	}
	return false
}

func docInt64(doc *clover.Document, field string) int64 {
	switch v := doc.Get(field).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func docTime(doc *clover.Document, field string) (*time.Time, error) {
	raw := docString(doc, field)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

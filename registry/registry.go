package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/schedule"
	"github.com/saiset-co/sai-scheduler/types"
)

// Registry is the authoritative in-memory view of all jobs, backed by the
// job store. Mutations are serialized through one mutex; reads share it.
type Registry struct {
	mu       sync.RWMutex
	store    types.JobStore
	logger   types.Logger
	location *time.Location
	now      func() time.Time
	order    []string
	jobs     map[string]types.Job
	specs    map[string]schedule.Spec
}

func NewRegistry(store types.JobStore, logger types.Logger, location *time.Location) *Registry {
	if location == nil {
		location = time.Local
	}

	return &Registry{
		store:    store,
		logger:   logger,
		location: location,
		now:      time.Now,
		jobs:     make(map[string]types.Job),
		specs:    make(map[string]schedule.Spec),
	}
}

func (r *Registry) Create(name string, scheduleType types.ScheduleType, rawTime string) (types.Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Job{}, types.ErrJobNameIsEmpty
	}

	spec, err := schedule.Parse(scheduleType, rawTime)
	if err != nil {
		return types.Job{}, err
	}

	next := spec.Next(r.now().In(r.location))

	job := types.Job{
		ID:      uuid.New().String(),
		Name:    name,
		Type:    spec.Type,
		Time:    spec.Raw,
		Enabled: true,
		NextRun: &next,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Insert(context.Background(), job); err != nil {
		return types.Job{}, types.WrapError(err, "failed to persist job")
	}

	r.order = append(r.order, job.ID)
	r.jobs[job.ID] = job
	r.specs[job.ID] = spec

	r.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.String("schedule", string(job.Type)+" "+job.Time),
		zap.Time("next_run", next))

	return job, nil
}

func (r *Registry) Get(id string) (types.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return types.Job{}, types.Errorf(types.ErrJobNotFound, "id: %s", id)
	}
	return job, nil
}

func (r *Registry) List() []types.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]types.Job, 0, len(r.order))
	for _, id := range r.order {
		jobs = append(jobs, r.jobs[id])
	}
	return jobs
}

func (r *Registry) Toggle(id string) (types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return types.Job{}, types.Errorf(types.ErrJobNotFound, "id: %s", id)
	}

	job.Enabled = !job.Enabled
	if job.Enabled {
		next := r.specs[id].Next(r.now().In(r.location))
		job.NextRun = &next
	} else {
		job.NextRun = nil
	}

	if err := r.store.Update(context.Background(), job); err != nil {
		return types.Job{}, types.WrapError(err, "failed to persist job toggle")
	}

	r.jobs[id] = job

	r.logger.Info("Job toggled",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.Bool("enabled", job.Enabled))

	return job, nil
}

// RecordRun anchors the job's next trigger to the completion time, which
// also discards any occurrences missed while the run (or the process)
// was stalled.
func (r *Registry) RecordRun(id string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return types.Errorf(types.ErrJobNotFound, "id: %s", id)
	}

	completedAt = completedAt.In(r.location)
	job.LastRun = &completedAt

	if job.Enabled {
		next := r.specs[id].Next(completedAt)
		job.NextRun = &next
	} else {
		job.NextRun = nil
	}

	if err := r.store.Update(context.Background(), job); err != nil {
		return types.WrapError(err, "failed to persist run record")
	}

	r.jobs[id] = job
	return nil
}

// Load rebuilds the registry from storage. Enabled jobs whose stored
// next_run is missing or already in the past get re-armed from now.
func (r *Registry) Load(ctx context.Context) error {
	jobs, err := r.store.List(ctx)
	if err != nil {
		return types.WrapError(err, "failed to load jobs from storage")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = r.order[:0]
	r.jobs = make(map[string]types.Job, len(jobs))
	r.specs = make(map[string]schedule.Spec, len(jobs))

	now := r.now().In(r.location)

	for _, job := range jobs {
		spec, err := schedule.Parse(job.Type, job.Time)
		if err != nil {
			r.logger.Warn("Skipping job with unparsable schedule",
				zap.String("job_id", job.ID),
				zap.String("job_name", job.Name),
				zap.Error(err))
			continue
		}

		if job.Enabled && (job.NextRun == nil || job.NextRun.Before(now)) {
			next := spec.Next(now)
			job.NextRun = &next

			if err := r.store.Update(ctx, job); err != nil {
				return types.WrapError(err, "failed to re-arm job")
			}
		}

		r.order = append(r.order, job.ID)
		r.jobs[job.ID] = job
		r.specs[job.ID] = spec
	}

	r.logger.Info("Job registry loaded", zap.Int("jobs", len(r.order)))
	return nil
}

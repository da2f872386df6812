package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-scheduler/types"
)

type MemoryStorage struct {
	logger types.Logger
	jobs   *memoryJobStore
	runs   *memoryRunStore
	state  atomic.Value
}

func NewMemoryStorage(ctx context.Context, logger types.Logger) (types.StorageManager, error) {
	ms := &MemoryStorage{
		logger: logger,
		jobs: &memoryJobStore{
			byID: make(map[string]int),
		},
		runs: &memoryRunStore{},
	}

	ms.state.Store(StateStopped)
	return ms, nil
}

func (ms *MemoryStorage) Start() error {
	if !ms.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if ms.getState() == StateStarting {
			ms.setState(StateRunning)
		}
	}()

	ms.logger.Info("Memory storage started")
	return nil
}

func (ms *MemoryStorage) Stop() error {
	if !ms.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		ms.setState(StateStopped)
	}()

	ms.logger.Info("Memory storage stopped gracefully")
	return nil
}

func (ms *MemoryStorage) IsRunning() bool {
	return ms.getState() == StateRunning
}

func (ms *MemoryStorage) Jobs() types.JobStore {
	return ms.jobs
}

func (ms *MemoryStorage) Runs() types.RunStore {
	return ms.runs
}

func (ms *MemoryStorage) getState() State {
	return ms.state.Load().(State)
}

func (ms *MemoryStorage) setState(newState State) bool {
	currentState := ms.getState()
	return ms.state.CompareAndSwap(currentState, newState)
}

func (ms *MemoryStorage) transitionState(from, to State) bool {
	return ms.state.CompareAndSwap(from, to)
}

type memoryJobStore struct {
	mu      sync.RWMutex
	ordered []types.Job
	byID    map[string]int
}

func (s *memoryJobStore) Insert(ctx context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[job.ID]; exists {
		return types.Errorf(types.ErrStorageOperationFailed, "duplicate job id: %s", job.ID)
	}

	s.byID[job.ID] = len(s.ordered)
	s.ordered = append(s.ordered, cloneJob(job))
	return nil
}

func (s *memoryJobStore) Update(ctx context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.byID[job.ID]
	if !exists {
		return types.Errorf(types.ErrJobNotFound, "id: %s", job.ID)
	}

	s.ordered[idx] = cloneJob(job)
	return nil
}

func (s *memoryJobStore) List(ctx context.Context) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]types.Job, 0, len(s.ordered))
	for _, job := range s.ordered {
		jobs = append(jobs, cloneJob(job))
	}
	return jobs, nil
}

type memoryRunStore struct {
	mu      sync.RWMutex
	entries []types.LogEntry
}

func (s *memoryRunStore) Append(ctx context.Context, entry types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryRunStore) List(ctx context.Context) ([]types.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]types.LogEntry, len(s.entries))
	copy(entries, s.entries)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RunTime.After(entries[j].RunTime)
	})

	return entries, nil
}

func (s *memoryRunStore) Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.entries)

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		kept := s.entries[:0]
		for _, entry := range s.entries {
			if !entry.RunTime.Before(cutoff) {
				kept = append(kept, entry)
			}
		}
		s.entries = kept
	}

	if maxEntries > 0 && len(s.entries) > maxEntries {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].RunTime.Before(s.entries[j].RunTime)
		})
		s.entries = append(s.entries[:0], s.entries[len(s.entries)-maxEntries:]...)
	}

	return int64(before - len(s.entries)), nil
}

func cloneJob(job types.Job) types.Job {
	cloned := job
	if job.LastRun != nil {
		t := *job.LastRun
		cloned.LastRun = &t
	}
	if job.NextRun != nil {
		t := *job.NextRun
		cloned.NextRun = &t
	}
	return cloned
}

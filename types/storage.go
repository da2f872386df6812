package types

import (
	"context"
	"time"
)

type StorageManager interface {
	LifecycleManager
	Jobs() JobStore
	Runs() RunStore
}

type JobStore interface {
	Insert(ctx context.Context, job Job) error
	Update(ctx context.Context, job Job) error
	List(ctx context.Context) ([]Job, error)
}

type RunStore interface {
	Append(ctx context.Context, entry LogEntry) error
	List(ctx context.Context) ([]LogEntry, error)
	Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int64, error)
}

type StorageManagerCreator func(config *StorageConfig) (StorageManager, error)

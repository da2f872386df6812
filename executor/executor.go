package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
)

// Executor runs one job at a time per job id, with a per-run deadline,
// bounded output capture and panic containment. Every run, whatever its
// outcome, lands in the history and re-arms the job through the registry.
type Executor struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	metrics     types.MetricsManager
	registry    types.JobRegistry
	history     types.RunHistory
	tasks       *TaskSet
	timeout     time.Duration
	maxOutput   int
	inflight    map[string]context.CancelFunc
	inflightMu  sync.Mutex
	shutdown    chan struct{}
	shutdownOne sync.Once
}

func NewExecutor(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, registry types.JobRegistry, history types.RunHistory, tasks *TaskSet) *Executor {
	executorConfig := config.GetConfig().Executor

	timeout := 30 * time.Second
	maxOutput := 64 * 1024

	if executorConfig != nil {
		if executorConfig.Timeout > 0 {
			timeout = executorConfig.Timeout
		}
		if executorConfig.MaxOutputBytes > 0 {
			maxOutput = executorConfig.MaxOutputBytes
		}
	}

	executorCtx, cancel := context.WithCancel(ctx)

	return &Executor{
		ctx:       executorCtx,
		cancel:    cancel,
		logger:    logger,
		metrics:   metrics,
		registry:  registry,
		history:   history,
		tasks:     tasks,
		timeout:   timeout,
		maxOutput: maxOutput,
		inflight:  make(map[string]context.CancelFunc),
		shutdown:  make(chan struct{}),
	}
}

// Shutdown cancels every in-flight run and refuses new ones. In-flight
// runs record a canceled outcome.
func (e *Executor) Shutdown() {
	e.shutdownOne.Do(func() {
		close(e.shutdown)

		e.inflightMu.Lock()
		cancels := make([]context.CancelFunc, 0, len(e.inflight))
		for _, cancel := range e.inflight {
			cancels = append(cancels, cancel)
		}
		e.inflightMu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}

		e.cancel()
	})
}

func (e *Executor) Execute(ctx context.Context, job types.Job) (types.LogEntry, error) {
	select {
	case <-e.shutdown:
		return types.LogEntry{}, types.ErrSchedulerStopped
	default:
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)

	if !e.registerRun(job.ID, cancel) {
		cancel()
		return types.LogEntry{}, types.Errorf(types.ErrJobAlreadyRunning, "job: %s", job.Name)
	}
	defer e.finishRun(job.ID)
	defer cancel()

	e.incActiveRunsGauge()
	defer e.decActiveRunsGauge()

	start := time.Now()
	output := newBoundedBuffer(e.maxOutput)
	task := e.tasks.Resolve(job.Name)

	e.logger.Debug("Job run started",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.String("task", task.Type()))

	var runErr error
	done := make(chan struct{})
	var taskFinished int32

	go func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = types.NewErrorf("task panic: %v", r)
				e.logger.Error("Task panicked",
					zap.String("job_name", job.Name),
					zap.Any("panic", r))
			}
			atomic.StoreInt32(&taskFinished, 1)
			close(done)
		}()

		func() {
			defer func() {
				if r := recover(); r != nil {
					runErr = types.NewErrorf("task execution panic: %v", r)
				}
			}()
			runErr = task.Run(runCtx, job, output)
		}()
	}()

	status := types.RunSuccess
	var finalErr error

	select {
	case <-done:
		if runErr != nil {
			status = types.RunFailure
			finalErr = runErr
			if types.IsError(runErr, context.DeadlineExceeded) {
				status = types.RunTimeout
				finalErr = types.Errorf(types.ErrExecutionTimeout, "timeout after %v", e.timeout)
			} else if types.IsError(runErr, context.Canceled) {
				status = types.RunCanceled
				finalErr = types.ErrExecutionCanceled
			}
		}
	case <-runCtx.Done():
		if types.IsError(runCtx.Err(), context.DeadlineExceeded) {
			status = types.RunTimeout
			finalErr = types.Errorf(types.ErrExecutionTimeout, "timeout after %v", e.timeout)
		} else {
			status = types.RunCanceled
			finalErr = types.ErrExecutionCanceled
		}

		gracefulTimer := time.NewTimer(5 * time.Second)
		select {
		case <-done:
			gracefulTimer.Stop()
		case <-gracefulTimer.C:
			if atomic.LoadInt32(&taskFinished) == 0 {
				e.logger.Warn("Task goroutine did not finish gracefully",
					zap.String("job_name", job.Name))
			}
		}
	}

	completedAt := time.Now()
	duration := completedAt.Sub(start)

	entry := types.LogEntry{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		JobName:    job.Name,
		Status:     status,
		RunTime:    completedAt,
		DurationMS: duration.Milliseconds(),
		Output:     output.String(),
	}
	if finalErr != nil {
		entry.Error = finalErr.Error()
	}

	// the run context may already be dead; recording must still happen
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recordCancel()

	if err := e.history.Append(recordCtx, entry); err != nil {
		e.logger.Error("Failed to record run history",
			zap.String("job_name", job.Name),
			zap.Error(err))
	}

	if err := e.registry.RecordRun(job.ID, completedAt); err != nil {
		e.logger.Error("Failed to record run on job",
			zap.String("job_name", job.Name),
			zap.Error(err))
	}

	e.incRunsCounter(job.Name, string(status))
	e.observeRunDuration(job.Name, duration.Seconds())

	if status == types.RunSuccess {
		e.logger.Info("Job run completed",
			zap.String("job_name", job.Name),
			zap.Duration("duration", duration))
	} else {
		e.logger.Warn("Job run finished abnormally",
			zap.String("job_name", job.Name),
			zap.String("status", string(status)),
			zap.Duration("duration", duration),
			zap.Error(finalErr))
	}

	return entry, nil
}

func (e *Executor) registerRun(jobID string, cancel context.CancelFunc) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	select {
	case <-e.shutdown:
		return false
	default:
	}

	if _, exists := e.inflight[jobID]; exists {
		return false
	}

	e.inflight[jobID] = cancel
	return true
}

func (e *Executor) finishRun(jobID string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	delete(e.inflight, jobID)
}

func (e *Executor) incRunsCounter(jobName, result string) {
	if e.metrics == nil {
		return
	}

	counter := e.metrics.Counter("job_runs_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	})
	counter.Inc()
}

func (e *Executor) observeRunDuration(jobName string, seconds float64) {
	if e.metrics == nil {
		return
	}

	histogram := e.metrics.Histogram("job_run_duration_seconds",
		[]float64{0.01, 0.1, 1.0, 10.0, 30.0, 60.0, 300.0},
		map[string]string{"job_name": jobName},
	)
	histogram.Observe(seconds)
}

func (e *Executor) incActiveRunsGauge() {
	if e.metrics == nil {
		return
	}
	e.metrics.Gauge("active_job_runs", nil).Inc()
}

func (e *Executor) decActiveRunsGauge() {
	if e.metrics == nil {
		return
	}
	e.metrics.Gauge("active_job_runs", nil).Dec()
}

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-scheduler/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager drives the scheduling loop: on every poll tick it collects jobs
// whose next run time has arrived and hands them to a bounded worker pool.
// A full queue skips the job for this tick; the due time stays armed, so
// the next tick picks it up again.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	registry        types.JobRegistry
	executor        types.JobExecutor
	timezone        *time.Location
	pollInterval    time.Duration
	workers         int
	shutdownTimeout time.Duration
	queue           chan types.Job
	state           atomic.Value
	workersWg       sync.WaitGroup
	shutdown        chan struct{}
	shutdownOnce    sync.Once
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, registry types.JobRegistry, executor types.JobExecutor) (types.SchedulerManager, error) {
	schedulerConfig := config.GetConfig().Scheduler

	pollInterval := 30 * time.Second
	workers := 4
	queueSize := 64
	shutdownTimeout := 10 * time.Second
	timezoneStr := ""

	if schedulerConfig != nil {
		if schedulerConfig.PollInterval > 0 {
			pollInterval = schedulerConfig.PollInterval
		}
		if schedulerConfig.Workers > 0 {
			workers = schedulerConfig.Workers
		}
		if schedulerConfig.QueueSize > 0 {
			queueSize = schedulerConfig.QueueSize
		}
		if schedulerConfig.ShutdownTimeout > 0 {
			shutdownTimeout = schedulerConfig.ShutdownTimeout
		}
		timezoneStr = schedulerConfig.Timezone
	}

	timezone, err := time.LoadLocation(timezoneStr)
	if err != nil {
		logger.Warn("Unknown timezone, falling back to UTC",
			zap.String("timezone", timezoneStr),
			zap.Error(err))
		timezone = time.UTC
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		registry:        registry,
		executor:        executor,
		timezone:        timezone,
		pollInterval:    pollInterval,
		workers:         workers,
		shutdownTimeout: shutdownTimeout,
		queue:           make(chan types.Job, queueSize),
		shutdown:        make(chan struct{}),
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	if err := m.registry.Load(m.ctx); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to load jobs")
	}

	for i := 0; i < m.workers; i++ {
		m.workersWg.Add(1)
		go m.worker(i)
	}

	m.workersWg.Add(1)
	go m.pollLoop()

	m.setSchedulerStatus(1)
	m.logger.Info("Scheduler started",
		zap.String("timezone", m.timezone.String()),
		zap.Duration("poll_interval", m.pollInterval),
		zap.Int("workers", m.workers))

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrServerNotRunning
	}

	var err error
	m.shutdownOnce.Do(func() {
		defer func() {
			m.setState(StateStopped)
			m.cancel()
		}()

		err = m.stop()
		m.setSchedulerStatus(0)

		if err == nil {
			m.logger.Info("Scheduler stopped gracefully")
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) pollLoop() {
	defer m.workersWg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.dispatchDue()

	for {
		select {
		case <-m.shutdown:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.dispatchDue()
		}
	}
}

func (m *Manager) dispatchDue() {
	now := time.Now().In(m.timezone)

	for _, job := range m.registry.List() {
		if !job.Enabled || job.NextRun == nil {
			continue
		}
		if job.NextRun.After(now) {
			continue
		}

		select {
		case m.queue <- job:
			m.incDispatchCounter(job.Name, "queued")
		default:
			m.incDispatchCounter(job.Name, "queue_full")
			m.logger.Warn("Dispatch queue full, job deferred to next tick",
				zap.String("job_name", job.Name))
		}
	}
}

func (m *Manager) worker(id int) {
	defer m.workersWg.Done()

	for {
		select {
		case <-m.shutdown:
			return
		case <-m.ctx.Done():
			return
		case job := <-m.queue:
			m.runJob(id, job)
		}
	}
}

func (m *Manager) runJob(workerID int, job types.Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Critical panic in scheduler worker",
				zap.Int("worker", workerID),
				zap.String("job_name", job.Name),
				zap.Any("panic", r))
		}
	}()

	_, err := m.executor.Execute(m.ctx, job)
	if err != nil {
		if types.IsError(err, types.ErrJobAlreadyRunning) {
			m.logger.Debug("Job still running, tick dropped",
				zap.String("job_name", job.Name))
			return
		}

		m.logger.Error("Scheduled run failed to start",
			zap.String("job_name", job.Name),
			zap.Error(err))
	}
}

func (m *Manager) stop() error {
	close(m.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			m.workersWg.Wait()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-gCtx.Done():
			return types.ErrExecutionTimeout
		}
	})

	if err := g.Wait(); err != nil {
		m.logger.Warn("Scheduler stop timeout, some workers may not have finished")
		return err
	}

	return nil
}

func (m *Manager) incDispatchCounter(jobName, result string) {
	if m.metrics == nil {
		return
	}

	counter := m.metrics.Counter("scheduler_dispatches_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	})
	counter.Inc()
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("scheduler_running", nil).Set(value)
}

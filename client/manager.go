package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-scheduler/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

// Manager owns one HTTP client per configured downstream service. Webhook
// tasks call out through it, so every webhook run gets the retry and
// circuit breaker behavior for free.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	clients         map[string]*HTTPClient
	clientConfig    *HTTPClientConfig
	mu              sync.RWMutex
	state           atomic.Value
	shutdownTimeout time.Duration
	callTimeout     time.Duration
}

type HTTPClientConfig struct {
	DefaultTimeout     time.Duration
	MaxIdleConnections int
	IdleConnTimeout    time.Duration
	DefaultRetries     int
	CircuitBreaker     *CircuitBreakerConfig
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.ClientManager, error) {
	clientConfig := &HTTPClientConfig{
		DefaultTimeout:     30 * time.Second,
		MaxIdleConnections: 100,
		IdleConnTimeout:    90 * time.Second,
		DefaultRetries:     3,
		CircuitBreaker: &CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenRequests: 3,
		},
	}

	if cfg := config.GetConfig().Client; cfg != nil {
		if cfg.DefaultTimeout > 0 {
			clientConfig.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.MaxIdleConnections > 0 {
			clientConfig.MaxIdleConnections = cfg.MaxIdleConnections
		}
		if cfg.IdleConnTimeout > 0 {
			clientConfig.IdleConnTimeout = cfg.IdleConnTimeout
		}
		if cfg.DefaultRetries > 0 {
			clientConfig.DefaultRetries = cfg.DefaultRetries
		}
		if cfg.CircuitBreaker != nil {
			clientConfig.CircuitBreaker = &CircuitBreakerConfig{
				Enabled:          cfg.CircuitBreaker.Enabled,
				FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
				RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
				HalfOpenRequests: cfg.CircuitBreaker.HalfOpenRequests,
			}
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		clients:         make(map[string]*HTTPClient),
		clientConfig:    clientConfig,
		shutdownTimeout: 10 * time.Second,
		callTimeout:     clientConfig.DefaultTimeout,
	}

	manager.state.Store(ManagerStateStopped)

	return manager, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == ManagerStateStarting {
			m.setState(ManagerStateRunning)
		}
	}()

	if err := m.initializeClients(); err != nil {
		m.setState(ManagerStateStopped)
		return types.WrapError(err, "failed to initialize HTTP clients")
	}

	m.logger.Info("Client manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(ManagerStateStopped)
		m.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	m.mu.RLock()
	clients := make([]*HTTPClient, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.RUnlock()

	for _, client := range clients {
		c := client
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				c.Close()
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			m.logger.Warn("Client manager stop timeout, some clients may not have stopped gracefully")
		default:
			m.logger.Error("Error during client manager shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Client manager stopped gracefully",
			zap.Int("clients_closed", len(clients)))
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

func (m *Manager) Call(serviceName, method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if !m.IsRunning() {
		return nil, 500, types.ErrClientNotInitialized
	}

	start := time.Now()

	callCtx, cancel := context.WithTimeout(m.ctx, m.callTimeout)
	defer cancel()

	if opts == nil {
		opts = &types.CallOptions{
			Headers: make(map[string]string),
		}
	}

	client, err := m.getClient(serviceName)
	if err != nil {
		m.recordMetric("call", "client_error", serviceName, time.Since(start))
		return nil, 500, err
	}

	var resp []byte
	var statusCode int

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, statusCode, err = client.Call(method, path, data, opts)
	}()

	select {
	case <-done:
	case <-callCtx.Done():
		m.recordMetric("call", "timeout", serviceName, time.Since(start))
		return nil, 500, types.NewErrorf("call timeout for service: %s", serviceName)
	case <-m.ctx.Done():
		m.recordMetric("call", "canceled", serviceName, time.Since(start))
		return nil, 500, types.NewErrorf("manager shutting down, aborting call to service: %s", serviceName)
	}

	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}
	m.recordMetric("call", result, serviceName, duration)
	m.recordRequestMetrics(serviceName, method, result, duration)
	m.updateCircuitBreakerMetrics(serviceName, client)

	return resp, statusCode, err
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) initializeClients() error {
	clientConfig := m.config.GetConfig().Client
	if clientConfig == nil || !clientConfig.Enabled {
		m.logger.Info("Client configuration disabled or not found")
		return nil
	}

	services := clientConfig.Services
	if services == nil {
		m.logger.Info("No services configured in client.services")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for serviceName, serviceConfig := range services {
		httpClientConfig := &ServiceClientConfig{
			BaseURL:        serviceConfig.Url,
			Timeout:        m.clientConfig.DefaultTimeout,
			Retries:        m.clientConfig.DefaultRetries,
			CircuitBreaker: m.clientConfig.CircuitBreaker,
		}

		m.clients[serviceName] = NewHTTPClient(m.ctx, m.logger, serviceName, httpClientConfig)
	}

	m.logger.Info("All HTTP clients initialized successfully",
		zap.Int("client_count", len(m.clients)))

	return nil
}

func (m *Manager) getClient(serviceName string) (*HTTPClient, error) {
	m.mu.RLock()
	client, exists := m.clients[serviceName]
	m.mu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrClientNotFound, "service: %s", serviceName)
	}

	return client, nil
}

func (m *Manager) recordRequestMetrics(serviceName, method, status string, duration time.Duration) {
	if m.metrics == nil {
		return
	}

	requestCounter := m.metrics.Counter("http_client_requests_total", map[string]string{
		"service": serviceName,
		"method":  method,
		"status":  status,
	})
	requestCounter.Inc()

	durationHist := m.metrics.Histogram("http_client_request_duration_seconds",
		[]float64{0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		map[string]string{"service": serviceName, "method": method},
	)
	durationHist.Observe(duration.Seconds())
}

func (m *Manager) recordMetric(operation, result, service string, duration time.Duration) {
	if m.metrics == nil {
		return
	}

	counter := m.metrics.Counter("client_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
		"service":   service,
	})
	counter.Inc()

	histogram := m.metrics.Histogram("client_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 5.0, 10.0, 30.0},
		map[string]string{"operation": operation, "service": service},
	)
	histogram.Observe(duration.Seconds())
}

func (m *Manager) updateCircuitBreakerMetrics(serviceName string, client *HTTPClient) {
	if m.metrics == nil {
		return
	}

	state, _, _ := client.getState()

	for _, s := range []string{"closed", "open", "half-open"} {
		stateGauge := m.metrics.Gauge("http_client_circuit_breaker_status", map[string]string{
			"service": serviceName,
			"state":   s,
		})
		stateGauge.Set(0)
	}

	currentState := "closed"
	switch state {
	case 1:
		currentState = "open"
	case 2:
		currentState = "half-open"
	}

	currentStateGauge := m.metrics.Gauge("http_client_circuit_breaker_status", map[string]string{
		"service": serviceName,
		"state":   currentState,
	})
	currentStateGauge.Set(1)
}

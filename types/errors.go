package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrPathNotFound         = errors.New("path not found")
)

var (
	ErrMiddlewareNotFound     = errors.New("middleware not found")
	ErrMiddlewareOrderInvalid = errors.New("middleware order invalid")
	ErrMiddlewareInvalidType  = errors.New("middleware invalid type")
	ErrBodyTooLarge           = errors.New("body too large")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
)

var (
	ErrCacheNotFound         = errors.New("cache not found")
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrUnknownScheduleType    = errors.New("unknown schedule type")
	ErrInvalidScheduleFormat  = errors.New("invalid schedule format")
	ErrJobNotFound            = errors.New("job not found")
	ErrJobAlreadyRunning      = errors.New("job already running")
	ErrJobDisabled            = errors.New("job disabled")
	ErrJobNameIsEmpty         = errors.New("job name is empty")
	ErrExecutionTimeout       = errors.New("execution timeout")
	ErrExecutionCanceled      = errors.New("execution canceled")
	ErrSchedulerStopped       = errors.New("scheduler stopped")
	ErrQueueFull              = errors.New("dispatch queue full")
	ErrTaskTypeUnknown        = errors.New("task type unknown")
	ErrTaskCommandIsEmpty     = errors.New("task command is empty")
	ErrTaskWebhookURLIsEmpty  = errors.New("task webhook url is empty")
	ErrHistoryDisabled        = errors.New("history is disabled")
	ErrStorageTypeUnknown     = errors.New("storage type unknown")
	ErrStorageIsDisabled      = errors.New("storage is disabled")
	ErrStorageOperationFailed = errors.New("storage operation failed")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
	ErrMetricsNotRunning    = errors.New("metrics manager is not running")
)

var (
	ErrClientNotFound        = errors.New("client not found")
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrHealthCheckFailed   = errors.New("health check failed")
	ErrHealthCheckTimeout  = errors.New("health check timeout")
	ErrHealthIsNotRunning  = errors.New("health manager is not running")
)

var (
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrInvalidState     = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

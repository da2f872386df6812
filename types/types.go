package types

// LifecycleManager is implemented by every long-lived component the
// service container starts and stops: storage, scheduler, cache,
// metrics, health, TLS, the HTTP server and router.
type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

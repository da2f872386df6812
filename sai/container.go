package sai

import (
	"sync/atomic"

	"github.com/saiset-co/sai-scheduler/cache"
	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/metrics"
	"github.com/saiset-co/sai-scheduler/storage"
	"github.com/saiset-co/sai-scheduler/types"
)

type Container struct {
	Config        atomic.Pointer[types.ConfigManager]
	Logger        atomic.Pointer[types.LoggerManager]
	Router        atomic.Pointer[types.HTTPRouter]
	Cache         atomic.Pointer[types.CacheManager]
	HTTPServer    atomic.Pointer[types.HTTPServer]
	ClientManager atomic.Pointer[types.ClientManager]
	Metrics       atomic.Pointer[types.MetricsManager]
	Middlewares   atomic.Pointer[types.MiddlewareManager]
	Health        atomic.Pointer[types.HealthManager]
	TLSManager    atomic.Pointer[types.TLSManager]
	Storage       atomic.Pointer[types.StorageManager]
	Registry      atomic.Pointer[types.JobRegistry]
	Executor      atomic.Pointer[types.JobExecutor]
	Scheduler     atomic.Pointer[types.SchedulerManager]
	History       atomic.Pointer[types.RunHistory]
}

var globalContainer *Container

func InitContainer() *Container {
	return &Container{}
}

func SetContainer(container *Container) {
	globalContainer = container
}

func Config() types.ConfigManager {
	if ptr := globalContainer.Config.Load(); ptr != nil {
		return *ptr
	}
	panic("ConfigManager not initialized")
}

func Logger() types.LoggerManager {
	if ptr := globalContainer.Logger.Load(); ptr != nil {
		return *ptr
	}
	panic("Logger not initialized")
}

func Router() types.HTTPRouter {
	if ptr := globalContainer.Router.Load(); ptr != nil {
		return *ptr
	}
	panic("Router not initialized")
}

func ClientManager() types.ClientManager {
	if ptr := globalContainer.ClientManager.Load(); ptr != nil {
		return *ptr
	}
	panic("ClientManager not initialized")
}

func Storage() types.StorageManager {
	if ptr := globalContainer.Storage.Load(); ptr != nil {
		return *ptr
	}
	panic("StorageManager not initialized")
}

func Registry() types.JobRegistry {
	if ptr := globalContainer.Registry.Load(); ptr != nil {
		return *ptr
	}
	panic("JobRegistry not initialized")
}

func Executor() types.JobExecutor {
	if ptr := globalContainer.Executor.Load(); ptr != nil {
		return *ptr
	}
	panic("JobExecutor not initialized")
}

func Scheduler() types.SchedulerManager {
	if ptr := globalContainer.Scheduler.Load(); ptr != nil {
		return *ptr
	}
	panic("SchedulerManager not initialized")
}

func History() types.RunHistory {
	if ptr := globalContainer.History.Load(); ptr != nil {
		return *ptr
	}
	panic("RunHistory not initialized")
}

func RegisterCacheManager(cacheManagerName string, creator types.CacheManagerCreator) {
	cache.RegisterCacheManager(cacheManagerName, creator)
}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	metrics.RegisterMetricsManager(metricsManagerName, creator)
}

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	logger.RegisterLogger(loggerName, creator)
}

func RegisterStorageManager(storageType string, creator types.StorageManagerCreator) {
	storage.RegisterStorageManager(storageType, creator)
}

func (fc *Container) SetConfig(config types.ConfigManager) {
	fc.Config.Store(&config)
}

func (fc *Container) SetLogger(logger types.LoggerManager) {
	fc.Logger.Store(&logger)
}

func (fc *Container) SetRouter(router types.HTTPRouter) {
	fc.Router.Store(&router)
}

func (fc *Container) SetCache(cache types.CacheManager) {
	fc.Cache.Store(&cache)
}

func (fc *Container) SetHTTPServer(server types.HTTPServer) {
	fc.HTTPServer.Store(&server)
}

func (fc *Container) SetClientManager(client types.ClientManager) {
	fc.ClientManager.Store(&client)
}

func (fc *Container) SetMetrics(metrics types.MetricsManager) {
	fc.Metrics.Store(&metrics)
}

func (fc *Container) SetMiddlewares(middlewares types.MiddlewareManager) {
	fc.Middlewares.Store(&middlewares)
}

func (fc *Container) SetHealth(health types.HealthManager) {
	fc.Health.Store(&health)
}

func (fc *Container) SetTLSManager(tlsManager types.TLSManager) {
	fc.TLSManager.Store(&tlsManager)
}

func (fc *Container) SetStorage(storage types.StorageManager) {
	fc.Storage.Store(&storage)
}

func (fc *Container) SetRegistry(registry types.JobRegistry) {
	fc.Registry.Store(&registry)
}

func (fc *Container) SetExecutor(executor types.JobExecutor) {
	fc.Executor.Store(&executor)
}

func (fc *Container) SetScheduler(scheduler types.SchedulerManager) {
	fc.Scheduler.Store(&scheduler)
}

func (fc *Container) SetHistory(history types.RunHistory) {
	fc.History.Store(&history)
}

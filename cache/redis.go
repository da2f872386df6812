package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
	"github.com/saiset-co/sai-scheduler/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisCache stores serialized responses in redis; revisions live both
// locally and in redis so several replicas sharing the instance agree on
// key versions.
type RedisCache struct {
	ctx          context.Context
	logger       types.Logger
	config       *RedisConfig
	client       *redis.Client
	revisions    map[string]uint64
	dependencies map[string][]string
	shutdownCh   chan struct{}
	revMu        sync.RWMutex
	depMu        sync.RWMutex
	started      int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-scheduler",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to parse redis cache config")
		}
	}

	cache := &RedisCache{
		ctx:          ctx,
		logger:       logger,
		config:       redisConfig,
		revisions:    make(map[string]uint64),
		dependencies: make(map[string][]string),
		shutdownCh:   make(chan struct{}),
	}

	cache.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	if err := cache.ping(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return cache, nil
}

func (r *RedisCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	fullKey := r.buildFullKey(key)

	result, err := r.client.Get(r.ctx, fullKey).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(r.ctx, fullKey)
		return nil, false
	}

	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		if err := r.Delete(key); err != nil {
			r.logger.Error("Failed to delete expired cache entry", zap.Error(err))
		}
		return nil, false
	}

	return entry.Value, true
}

func (r *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	fullKey := r.buildFullKey(key)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		TTL:       ttl,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if err := r.client.Set(r.ctx, fullKey, data, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisCache) Delete(key string) error {
	if key == "" {
		return nil
	}

	fullKey := r.buildFullKey(key)

	if err := r.client.Del(r.ctx, fullKey).Err(); err != nil {
		return types.WrapError(err, "failed to delete cache key")
	}

	r.removeDependenciesForKey(key)
	return nil
}

func (r *RedisCache) Invalidate(keys ...string) error {
	var errs []string
	for _, key := range keys {
		if key == "" {
			continue
		}

		r.SetRevision(key, r.GetRevision(key)+1)

		if err := r.invalidateDependencies(key); err != nil {
			errs = append(errs, fmt.Sprintf("key %s: %v", key, err))
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("invalidation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (r *RedisCache) GetRevision(key string) uint64 {
	if key == "" {
		return 0
	}

	r.revMu.RLock()
	if revision, exists := r.revisions[key]; exists {
		r.revMu.RUnlock()
		return revision
	}
	r.revMu.RUnlock()

	result, err := r.client.Get(r.ctx, r.buildRevisionKey(key)).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Warn("Failed to get revision from redis",
				zap.String("key", key), zap.Error(err))
		}
		return 0
	}

	revision, err := strconv.ParseUint(result, 10, 64)
	if err != nil {
		r.logger.Error("Failed to parse revision",
			zap.String("key", key), zap.Error(err))
		return 0
	}

	r.revMu.Lock()
	if existing, exists := r.revisions[key]; !exists || revision > existing {
		r.revisions[key] = revision
	} else {
		revision = existing
	}
	r.revMu.Unlock()

	return revision
}

func (r *RedisCache) SetRevision(key string, revision uint64) {
	if key == "" {
		return
	}

	if err := r.client.Set(r.ctx, r.buildRevisionKey(key), revision, 0).Err(); err != nil {
		r.logger.Error("Failed to set revision in redis",
			zap.String("key", key),
			zap.Uint64("revision", revision),
			zap.Error(err))
	}

	r.revMu.Lock()
	r.revisions[key] = revision
	r.revMu.Unlock()
}

func (r *RedisCache) BuildCacheKey(requestPath string, dependencies []string) string {
	if requestPath == "" {
		return ""
	}

	keyParts := []string{requestPath}

	for _, dep := range dependencies {
		if dep != "" {
			keyParts = append(keyParts, fmt.Sprintf("%s|%d", dep, r.GetRevision(dep)))
		}
	}

	cacheKey := strings.Join(keyParts, "|")
	r.registerDependencies(cacheKey, dependencies)

	return cacheKey
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	r.logger.Info("Redis cache started")
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	select {
	case <-r.shutdownCh:
	default:
		close(r.shutdownCh)
	}

	r.revMu.Lock()
	r.revisions = make(map[string]uint64)
	r.revMu.Unlock()

	r.depMu.Lock()
	r.dependencies = make(map[string][]string)
	r.depMu.Unlock()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			return types.WrapError(err, "failed to close redis client")
		}
	}

	r.logger.Info("Redis cache closed")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}

func (r *RedisCache) buildRevisionKey(key string) string {
	return r.buildFullKey(fmt.Sprintf("rev:%s", key))
}

func (r *RedisCache) invalidateDependencies(key string) error {
	r.depMu.RLock()
	dependents := make([]string, len(r.dependencies[key]))
	copy(dependents, r.dependencies[key])
	r.depMu.RUnlock()

	var errs []string
	for _, dependent := range dependents {
		if err := r.Delete(dependent); err != nil {
			errs = append(errs, fmt.Sprintf("dependent %s: %v", dependent, err))
		}
	}

	r.depMu.Lock()
	delete(r.dependencies, key)
	r.depMu.Unlock()

	if len(errs) > 0 {
		return types.NewErrorf("dependency invalidation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (r *RedisCache) registerDependencies(cacheKey string, dependencies []string) {
	if cacheKey == "" || len(dependencies) == 0 {
		return
	}

	r.depMu.Lock()
	defer r.depMu.Unlock()

	for _, dep := range dependencies {
		if dep == "" {
			continue
		}

		found := false
		for _, existing := range r.dependencies[dep] {
			if existing == cacheKey {
				found = true
				break
			}
		}

		if !found {
			r.dependencies[dep] = append(r.dependencies[dep], cacheKey)
		}
	}
}

func (r *RedisCache) removeDependenciesForKey(cacheKey string) {
	if cacheKey == "" {
		return
	}

	r.depMu.Lock()
	defer r.depMu.Unlock()

	for dep, dependents := range r.dependencies {
		filtered := dependents[:0]
		for _, dependent := range dependents {
			if dependent != cacheKey {
				filtered = append(filtered, dependent)
			}
		}

		if len(filtered) == 0 {
			delete(r.dependencies, dep)
		} else {
			r.dependencies[dep] = filtered
		}
	}
}

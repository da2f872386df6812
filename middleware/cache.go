package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
	"github.com/saiset-co/sai-scheduler/utils"
)

type CacheMiddleware struct {
	config      types.ConfigManager
	logger      types.Logger
	metrics     types.MetricsManager
	cache       types.CacheManager
	cacheConfig *CacheConfig
	weight      int
}

type CacheConfig struct {
	Enabled    bool          `json:"enabled"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

type cachedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func NewCacheMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, cache types.CacheManager) *CacheMiddleware {
	item := config.GetConfig().Middlewares.Cache

	var cacheConfig = &CacheConfig{
		Enabled:    item.Enabled,
		DefaultTTL: 5 * time.Minute,
	}

	if item.Params != nil {
		if err := utils.UnmarshalConfig(item.Params, cacheConfig); err != nil {
			logger.Error("Failed to unmarshal Cache middleware config", zap.Error(err))
		}
	}

	return &CacheMiddleware{
		config:      config,
		logger:      logger,
		metrics:     metrics,
		cache:       cache,
		cacheConfig: cacheConfig,
		weight:      weightOrDefault(item.Weight, 60),
	}
}

func (c *CacheMiddleware) Name() string { return "Cache" }
func (c *CacheMiddleware) Weight() int  { return c.weight }

func (c *CacheMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if !c.cacheConfig.Enabled || c.cache == nil {
		next(ctx)
		return
	}

	if string(ctx.Method()) != fasthttp.MethodGet {
		next(ctx)
		return
	}

	if config == nil || config.Cache == nil || !config.Cache.Enabled {
		next(ctx)
		return
	}

	start := time.Now()
	cacheKey := c.buildCacheKey(ctx, config)

	if cached, exists := c.cache.Get(cacheKey); exists {
		if c.restoreResponse(ctx, cached) {
			c.logger.Debug("Cache hit",
				zap.String("cache_key", cacheKey),
				zap.String("path", string(ctx.Path())),
				zap.Duration("duration", time.Since(start)))
			return
		}
	}

	next(ctx)

	if c.shouldCacheResponse(ctx) {
		responseData := &cachedResponse{
			Status:  ctx.Response.StatusCode(),
			Body:    append([]byte(nil), ctx.Response.Body()...),
			Headers: c.extractResponseHeaders(ctx),
		}

		ttl := c.getTTL(config.Cache)

		if setErr := c.cache.Set(cacheKey, responseData, ttl); setErr != nil {
			c.logger.Error("Failed to set cache",
				zap.String("cache_key", cacheKey),
				zap.Error(setErr))
		}
	}

	c.logger.Debug("Cache miss",
		zap.String("cache_key", cacheKey),
		zap.String("path", string(ctx.Path())),
		zap.Duration("total_duration", time.Since(start)))
}

func (c *CacheMiddleware) shouldCacheResponse(ctx *fasthttp.RequestCtx) bool {
	statusCode := ctx.Response.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return false
	}

	if len(ctx.Response.Body()) == 0 {
		return false
	}

	cacheControl := string(ctx.Response.Header.Peek("Cache-Control"))
	if strings.Contains(strings.ToLower(cacheControl), "no-cache") ||
		strings.Contains(strings.ToLower(cacheControl), "no-store") {
		return false
	}

	return true
}

func (c *CacheMiddleware) buildCacheKey(ctx *fasthttp.RequestCtx, config *types.RouteConfig) string {
	if config.Cache.Key != "" {
		return c.cache.BuildCacheKey(config.Cache.Key, config.Cache.Deps)
	}

	requestPath := string(ctx.Path())
	if len(ctx.QueryArgs().QueryString()) > 0 {
		requestPath += "?" + string(ctx.QueryArgs().QueryString())
	}

	return c.cache.BuildCacheKey(requestPath, config.Cache.Deps)
}

func (c *CacheMiddleware) getTTL(config *types.CacheHandlerConfig) time.Duration {
	if config.TTL > 0 {
		return time.Duration(config.TTL) * time.Second
	}
	return c.cacheConfig.DefaultTTL
}

func (c *CacheMiddleware) extractResponseHeaders(ctx *fasthttp.RequestCtx) map[string]string {
	headers := make(map[string]string)

	ctx.Response.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	return headers
}

func (c *CacheMiddleware) restoreResponse(ctx *fasthttp.RequestCtx, cached interface{}) bool {
	resp, ok := cached.(*cachedResponse)
	if !ok {
		// Redis entries come back as raw JSON.
		raw, isBytes := cached.([]byte)
		if !isBytes {
			return false
		}
		resp = &cachedResponse{}
		if err := utils.Unmarshal(raw, resp); err != nil {
			return false
		}
	}

	ctx.SetStatusCode(resp.Status)
	ctx.SetBody(resp.Body)

	for key, value := range resp.Headers {
		ctx.Response.Header.Set(key, value)
	}

	return true
}

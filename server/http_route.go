package server

import (
	"time"

	"github.com/saiset-co/sai-scheduler/types"
)

// RouteBuilder mutates the config the route was registered with, so
// chained calls take effect without a separate finalize step.
type RouteBuilder struct {
	config *types.RouteConfig
}

func (rb *RouteBuilder) WithCache(key string, ttl time.Duration, dependencies ...string) types.RouteBuilder {
	rb.config.Cache = &types.CacheHandlerConfig{
		Enabled: true,
		Key:     key,
		TTL:     int(ttl.Seconds()),
		Deps:    dependencies,
	}
	return rb
}

func (rb *RouteBuilder) WithMiddlewares(names ...string) types.RouteBuilder {
	rb.config.Middlewares = append(rb.config.Middlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) types.RouteBuilder {
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithTimeout(duration time.Duration) types.RouteBuilder {
	rb.config.Timeout = duration
	return rb
}

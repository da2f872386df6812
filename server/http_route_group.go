package server

import (
	"time"

	"github.com/saiset-co/sai-scheduler/types"
)

type GroupBuilder struct {
	router *FastHTTPRouter
	prefix string
	config *types.RouteConfig
}

func (gb *GroupBuilder) WithCache(key string, ttl time.Duration, dependencies ...string) types.GroupBuilder {
	gb.config.Cache = &types.CacheHandlerConfig{
		Enabled: true,
		Key:     key,
		TTL:     int(ttl.Seconds()),
		Deps:    dependencies,
	}
	return gb
}

func (gb *GroupBuilder) WithMiddlewares(names ...string) types.GroupBuilder {
	gb.config.Middlewares = append(gb.config.Middlewares, names...)
	return gb
}

func (gb *GroupBuilder) WithoutMiddlewares(names ...string) types.GroupBuilder {
	gb.config.DisabledMiddlewares = append(gb.config.DisabledMiddlewares, names...)
	return gb
}

func (gb *GroupBuilder) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	rb := gb.router.Route(method, gb.prefix+path, handler).(*RouteBuilder)

	if gb.config.Cache != nil {
		rb.config.Cache = gb.config.Cache
	}
	if gb.config.Timeout > 0 {
		rb.config.Timeout = gb.config.Timeout
	}

	rb.config.Middlewares = append(rb.config.Middlewares, gb.config.Middlewares...)
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, gb.config.DisabledMiddlewares...)

	return rb
}

func (gb *GroupBuilder) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("GET", path, handler)
}

func (gb *GroupBuilder) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("POST", path, handler)
}

func (gb *GroupBuilder) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("PUT", path, handler)
}

func (gb *GroupBuilder) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("DELETE", path, handler)
}

func (gb *GroupBuilder) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: gb.router,
		prefix: gb.prefix + prefix,
		config: &types.RouteConfig{},
	}
}

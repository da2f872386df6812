package types

import "github.com/valyala/fasthttp"

// MiddlewareManager builds the weight-ordered chain that wraps every
// HTTP handler. Routes opt out of individual middlewares by name
// through their RouteConfig.
type MiddlewareManager interface {
	RegisterMiddlewares() error
	Register(middleware Middleware) error
	Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *RouteConfig)
	Clear()
}

// Middleware is a single link in the chain; lower weights run first.
type Middleware interface {
	Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *RouteConfig)
	Name() string
	Weight() int
}

type MiddlewareEntry struct {
	Name       string
	Middleware Middleware
	Weight     int
}

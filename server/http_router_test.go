package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-scheduler/types"
)

func noopHandler(ctx *fasthttp.RequestCtx) {}

func TestLookupStaticRoute(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	router.GET("/jobs", noopHandler)

	handler, config, params := router.Lookup([]byte("GET"), []byte("/jobs"))
	require.NotNil(t, handler)
	require.NotNil(t, config)
	assert.Nil(t, params)
}

func TestLookupStaticRouteLongKey(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	path := "/jobs/with/a/rather/long/static/path/segment"
	router.GET(path, noopHandler)

	handler, _, _ := router.Lookup([]byte("GET"), []byte(path))
	assert.NotNil(t, handler)
}

func TestLookupWrongMethodMisses(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	router.GET("/jobs", noopHandler)

	handler, _, _ := router.Lookup([]byte("DELETE"), []byte("/jobs"))
	assert.Nil(t, handler)
}

func TestLookupParamRoute(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	router.POST("/jobs/{id}/toggle", noopHandler)

	handler, _, params := router.Lookup([]byte("POST"), []byte("/jobs/job-42/toggle"))
	require.NotNil(t, handler)
	require.NotNil(t, params)
	assert.Equal(t, "job-42", params["id"])

	router.ReleaseParams(params)
}

func TestLookupPrefersStaticOverParam(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	var hit string
	router.GET("/jobs/{id}", func(ctx *fasthttp.RequestCtx) { hit = "param" })
	router.GET("/jobs/all", func(ctx *fasthttp.RequestCtx) { hit = "static" })

	handler, _, params := router.Lookup([]byte("GET"), []byte("/jobs/all"))
	require.NotNil(t, handler)
	assert.Nil(t, params)

	handler(&fasthttp.RequestCtx{})
	assert.Equal(t, "static", hit)
}

func TestLookupUnknownPath(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	router.GET("/jobs", noopHandler)

	handler, _, _ := router.Lookup([]byte("GET"), []byte("/ghosts"))
	assert.Nil(t, handler)
}

func TestRouteBuilderMutatesRegisteredConfig(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	router.GET("/jobs", noopHandler).
		WithCache("/jobs", 30*time.Second, "jobs").
		WithoutMiddlewares("Logging")

	_, config, _ := router.Lookup([]byte("GET"), []byte("/jobs"))
	require.NotNil(t, config)
	require.NotNil(t, config.Cache)
	assert.True(t, config.Cache.Enabled)
	assert.Equal(t, "/jobs", config.Cache.Key)
	assert.Equal(t, 30, config.Cache.TTL)
	assert.Equal(t, []string{"jobs"}, config.Cache.Deps)
	assert.Equal(t, []string{"Logging"}, config.DisabledMiddlewares)
}

func TestGroupBuilderAppliesPrefixAndConfig(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	group := router.Group("/api")
	group.WithoutMiddlewares("Cache")
	group.GET("/jobs", noopHandler)

	handler, config, _ := router.Lookup([]byte("GET"), []byte("/api/jobs"))
	require.NotNil(t, handler)
	require.NotNil(t, config)
	assert.Contains(t, config.DisabledMiddlewares, "Cache")
}

func TestGetAllRoutesIncludesTrieRoutes(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	router.GET("/jobs", noopHandler)
	router.POST("/jobs/{id}/run", noopHandler)

	routes := router.GetAllRoutes()
	assert.Contains(t, routes, "GET:/jobs")
	assert.Contains(t, routes, "POST:/jobs/{id}/run")
}

func TestRouterLifecycle(t *testing.T) {
	router, err := NewFastHTTPRouter()
	require.NoError(t, err)

	require.NoError(t, router.Start())
	assert.True(t, router.IsRunning())
	assert.ErrorIs(t, router.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, router.Stop())
	assert.False(t, router.IsRunning())
	assert.ErrorIs(t, router.Stop(), types.ErrServerNotRunning)
}

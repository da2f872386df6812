package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/types"
)

type stubConfig struct {
	config types.ServiceConfig
}

func (s *stubConfig) Load() error                              { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig          { return &s.config }
func (s *stubConfig) GetValue(string, interface{}) interface{} { return nil }
func (s *stubConfig) GetAs(string, interface{}) error          { return nil }

type stubMiddleware struct {
	name   string
	weight int
	calls  *[]string
}

func (s *stubMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	*s.calls = append(*s.calls, s.name)
	next(ctx)
}

func (s *stubMiddleware) Name() string { return s.name }
func (s *stubMiddleware) Weight() int  { return s.weight }

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	manager, err := NewManager(context.Background(), &stubConfig{}, log, nil, nil)
	require.NoError(t, err)
	return manager
}

func TestExecuteRunsMiddlewaresInWeightOrder(t *testing.T) {
	manager := newTestManager(t)

	var calls []string
	require.NoError(t, manager.Register(&stubMiddleware{name: "second", weight: 20, calls: &calls}))
	require.NoError(t, manager.Register(&stubMiddleware{name: "first", weight: 10, calls: &calls}))
	require.NoError(t, manager.RegisterMiddlewares())

	manager.Execute(&fasthttp.RequestCtx{}, func(ctx *fasthttp.RequestCtx) {
		calls = append(calls, "handler")
	}, nil)

	assert.Equal(t, []string{"first", "second", "handler"}, calls)
}

func TestDisabledMiddlewareIsSkipped(t *testing.T) {
	manager := newTestManager(t)

	var calls []string
	require.NoError(t, manager.Register(&stubMiddleware{name: "kept", weight: 10, calls: &calls}))
	require.NoError(t, manager.Register(&stubMiddleware{name: "dropped", weight: 20, calls: &calls}))
	require.NoError(t, manager.RegisterMiddlewares())

	config := &types.RouteConfig{DisabledMiddlewares: []string{"dropped"}}
	manager.Execute(&fasthttp.RequestCtx{}, func(ctx *fasthttp.RequestCtx) {
		calls = append(calls, "handler")
	}, config)

	assert.Equal(t, []string{"kept", "handler"}, calls)
}

func TestDuplicateWeightIsRejected(t *testing.T) {
	manager := newTestManager(t)

	var calls []string
	require.NoError(t, manager.Register(&stubMiddleware{name: "a", weight: 10, calls: &calls}))
	require.NoError(t, manager.Register(&stubMiddleware{name: "b", weight: 10, calls: &calls}))

	assert.Error(t, manager.RegisterMiddlewares())
}

func TestRegisterAfterFinalizeFails(t *testing.T) {
	manager := newTestManager(t)
	require.NoError(t, manager.RegisterMiddlewares())

	var calls []string
	assert.Error(t, manager.Register(&stubMiddleware{name: "late", weight: 10, calls: &calls}))
}

func TestExecuteWithoutMiddlewaresCallsHandler(t *testing.T) {
	manager := newTestManager(t)
	require.NoError(t, manager.RegisterMiddlewares())

	called := false
	manager.Execute(&fasthttp.RequestCtx{}, func(ctx *fasthttp.RequestCtx) {
		called = true
	}, nil)

	assert.True(t, called)
}

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/storage"
	"github.com/saiset-co/sai-scheduler/types"
)

type staticConfig struct {
	config *types.ServiceConfig
}

func (c *staticConfig) Load() error                          { return nil }
func (c *staticConfig) GetConfig() *types.ServiceConfig      { return c.config }
func (c *staticConfig) GetValue(string, interface{}) interface{} { return nil }
func (c *staticConfig) GetAs(string, interface{}) error      { return nil }

func newTestHistory(t *testing.T, maxEntries int, maxAge time.Duration) *History {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	ms, err := storage.NewMemoryStorage(context.Background(), log)
	require.NoError(t, err)
	require.NoError(t, ms.Start())
	t.Cleanup(func() { _ = ms.Stop() })

	config := &staticConfig{config: &types.ServiceConfig{
		History: &types.HistoryConfig{MaxEntries: maxEntries, MaxAge: maxAge},
	}}

	return NewHistory(config, log, ms.Runs())
}

func TestAppendAndListNewestFirst(t *testing.T) {
	h := newTestHistory(t, 10, time.Hour)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Minute)
	for i := 0; i < 3; i++ {
		entry := types.LogEntry{
			ID:      string(rune('a' + i)),
			JobID:   "job",
			Status:  types.RunSuccess,
			RunTime: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, h.Append(ctx, entry))
	}

	entries, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
	assert.Equal(t, "a", entries[2].ID)
}

func TestAppendEvictsOverMaxEntries(t *testing.T) {
	h := newTestHistory(t, 2, time.Hour)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Minute)
	for i := 0; i < 4; i++ {
		entry := types.LogEntry{
			ID:      string(rune('a' + i)),
			JobID:   "job",
			Status:  types.RunFailure,
			RunTime: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, h.Append(ctx, entry))
	}

	entries, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "d", entries[0].ID)
	assert.Equal(t, "c", entries[1].ID)
}

func TestAppendEvictsExpiredEntries(t *testing.T) {
	h := newTestHistory(t, 100, time.Hour)
	ctx := context.Background()

	expired := types.LogEntry{ID: "expired", JobID: "job", Status: types.RunSuccess, RunTime: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, h.Append(ctx, expired))

	fresh := types.LogEntry{ID: "fresh", JobID: "job", Status: types.RunSuccess, RunTime: time.Now()}
	require.NoError(t, h.Append(ctx, fresh))

	entries, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].ID)
}

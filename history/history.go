package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
)

// History is the append-only run log with bounded retention. Retention is
// enforced on every append so the store never grows past its limits.
type History struct {
	store      types.RunStore
	logger     types.Logger
	maxEntries int
	maxAge     time.Duration
}

func NewHistory(config types.ConfigManager, logger types.Logger, store types.RunStore) *History {
	historyConfig := config.GetConfig().History

	maxEntries := 1000
	maxAge := 168 * time.Hour

	if historyConfig != nil {
		if historyConfig.MaxEntries > 0 {
			maxEntries = historyConfig.MaxEntries
		}
		if historyConfig.MaxAge > 0 {
			maxAge = historyConfig.MaxAge
		}
	}

	return &History{
		store:      store,
		logger:     logger,
		maxEntries: maxEntries,
		maxAge:     maxAge,
	}
}

func (h *History) Append(ctx context.Context, entry types.LogEntry) error {
	if err := h.store.Append(ctx, entry); err != nil {
		return types.WrapError(err, "failed to append run log")
	}

	pruned, err := h.store.Prune(ctx, h.maxEntries, h.maxAge)
	if err != nil {
		h.logger.Warn("Failed to prune run history", zap.Error(err))
		return nil
	}

	if pruned > 0 {
		h.logger.Debug("Run history pruned", zap.Int64("evicted", pruned))
	}

	return nil
}

func (h *History) List(ctx context.Context) ([]types.LogEntry, error) {
	entries, err := h.store.List(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to list run logs")
	}
	return entries, nil
}

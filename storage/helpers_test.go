package storage

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/logger"
	"github.com/saiset-co/sai-scheduler/types"
)

func newNopLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

package middleware

import (
	"bytes"
	"fmt"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
	"github.com/saiset-co/sai-scheduler/utils"
)

type BodyLimitMiddleware struct {
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	bodyLimitConfig *BodyLimitConfig
	name            string
	weight          int
	errorResponse   []byte
}

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

var bodyMethods = []byte("POSTPUTPATCHDELETE")

func NewBodyLimitMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *BodyLimitMiddleware {
	item := config.GetConfig().Middlewares.BodyLimit

	var bodyLimitConfig = &BodyLimitConfig{
		MaxBodySize: 1024 * 1024,
	}

	if item.Params != nil {
		if err := utils.UnmarshalConfig(item.Params, bodyLimitConfig); err != nil {
			logger.Error("Failed to unmarshal BodyLimit middleware config", zap.Error(err))
		}
	}

	bl := &BodyLimitMiddleware{
		name:            "BodyLimit",
		config:          config,
		logger:          logger,
		metrics:         metrics,
		bodyLimitConfig: bodyLimitConfig,
		weight:          weightOrDefault(item.Weight, 40),
	}

	bl.errorResponse = []byte(fmt.Sprintf(
		`{"error":"Request entity too large","message":"Request body exceeds maximum size of %d bytes","max_size":%d,"error_code":"BODY_TOO_LARGE"}`,
		bodyLimitConfig.MaxBodySize, bodyLimitConfig.MaxBodySize))

	return bl
}

func (bl *BodyLimitMiddleware) Name() string { return bl.name }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if !bytes.Contains(bodyMethods, ctx.Method()) {
		next(ctx)
		return
	}

	contentLength := ctx.Request.Header.ContentLength()

	if contentLength > 0 {
		if int64(contentLength) > bl.bodyLimitConfig.MaxBodySize {
			bl.createBodyLimitResponse(ctx)
			return
		}
	}

	if contentLength <= 0 || bl.isChunkedEncoding(ctx) {
		bodySize := int64(len(ctx.PostBody()))
		if bodySize > bl.bodyLimitConfig.MaxBodySize {
			bl.createBodyLimitResponse(ctx)
			return
		}
	}

	next(ctx)
}

func (bl *BodyLimitMiddleware) isChunkedEncoding(ctx *fasthttp.RequestCtx) bool {
	transferEncoding := ctx.Request.Header.Peek("Transfer-Encoding")
	return bytes.Equal(transferEncoding, []byte("chunked"))
}

func (bl *BodyLimitMiddleware) createBodyLimitResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusRequestEntityTooLarge)
	ctx.SetContentType("application/json")
	ctx.SetConnectionClose()

	ctx.SetBody(bl.errorResponse)
}

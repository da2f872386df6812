package api

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-scheduler/types"
	"github.com/saiset-co/sai-scheduler/utils"
)

const (
	jobsCacheDep = "jobs"
	logsCacheDep = "logs"
)

// Handler exposes the job control plane: job CRUD, manual runs, and
// run history. Manual runs execute synchronously; the response carries
// the resulting log entry.
type Handler struct {
	ctx      context.Context
	logger   types.Logger
	cache    types.CacheManager
	registry types.JobRegistry
	history  types.RunHistory
	executor types.JobExecutor
}

type createJobRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Time string `json:"time"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(
	ctx context.Context,
	logger types.Logger,
	cache types.CacheManager,
	registry types.JobRegistry,
	history types.RunHistory,
	executor types.JobExecutor) *Handler {
	return &Handler{
		ctx:      ctx,
		logger:   logger,
		cache:    cache,
		registry: registry,
		history:  history,
		executor: executor,
	}
}

func (h *Handler) RegisterRoutes(router types.HTTPRouter) {
	router.GET("/jobs", h.handleListJobs).
		WithCache("/jobs", 30*time.Second, jobsCacheDep)

	router.POST("/jobs", h.handleCreateJob)
	router.POST("/jobs/{id}/toggle", h.handleToggleJob)
	router.POST("/jobs/{id}/run", h.handleRunJob)

	router.GET("/logs", h.handleListLogs).
		WithCache("/logs", 10*time.Second, logsCacheDep)
}

func (h *Handler) handleListJobs(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, h.registry.List())
}

func (h *Handler) handleCreateJob(ctx *fasthttp.RequestCtx) {
	var req createJobRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.WriteJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	job, err := h.registry.Create(req.Name, types.ScheduleType(req.Type), req.Time)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.invalidate(jobsCacheDep)

	utils.WriteJSON(ctx, fasthttp.StatusCreated, job)
}

func (h *Handler) handleToggleJob(ctx *fasthttp.RequestCtx) {
	id, ok := ctx.UserValue("id").(string)
	if !ok || id == "" {
		utils.WriteJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "missing job id"})
		return
	}

	job, err := h.registry.Toggle(id)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.invalidate(jobsCacheDep)

	utils.WriteJSON(ctx, fasthttp.StatusOK, job)
}

func (h *Handler) handleRunJob(ctx *fasthttp.RequestCtx) {
	id, ok := ctx.UserValue("id").(string)
	if !ok || id == "" {
		utils.WriteJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "missing job id"})
		return
	}

	job, err := h.registry.Get(id)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	entry, err := h.executor.Execute(h.ctx, job)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	// The run completed (whatever its status), so next_run and the log
	// history both moved.
	h.invalidate(jobsCacheDep)
	h.invalidate(logsCacheDep)

	utils.WriteJSON(ctx, fasthttp.StatusOK, entry)
}

func (h *Handler) handleListLogs(ctx *fasthttp.RequestCtx) {
	entries, err := h.history.List(h.ctx)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, entries)
}

func (h *Handler) invalidate(dependency string) {
	if h.cache == nil {
		return
	}

	if err := h.cache.Invalidate(dependency); err != nil {
		h.logger.Warn("Cache invalidation failed",
			zap.String("dependency", dependency),
			zap.Error(err))
	}
}

func (h *Handler) writeError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case types.IsError(err, types.ErrJobNotFound):
		utils.WriteJSON(ctx, fasthttp.StatusNotFound, errorResponse{Error: err.Error()})
	case types.IsError(err, types.ErrJobAlreadyRunning):
		utils.WriteJSON(ctx, fasthttp.StatusConflict, errorResponse{Error: err.Error()})
	case types.IsError(err, types.ErrJobNameIsEmpty),
		types.IsError(err, types.ErrInvalidScheduleFormat),
		types.IsError(err, types.ErrUnknownScheduleType):
		utils.WriteJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: err.Error()})
	case types.IsError(err, types.ErrSchedulerStopped):
		utils.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		utils.WriteJSON(ctx, fasthttp.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

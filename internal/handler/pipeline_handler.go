package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/response"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/validator"
	"github.com/rs/zerolog"
)

// PipelineHandler triggers pipeline runs and reports job state.
type PipelineHandler struct {
	pipelineService *service.PipelineService
	queue           *service.JobQueue
	runTimeout      time.Duration
	log             zerolog.Logger
}

// NewPipelineHandler creates a new PipelineHandler. runTimeout bounds a
// synchronous run; zero leaves it to the client connection.
func NewPipelineHandler(
	pipelineService *service.PipelineService,
	queue *service.JobQueue,
	runTimeout time.Duration,
	log zerolog.Logger,
) *PipelineHandler {
	return &PipelineHandler{
		pipelineService: pipelineService,
		queue:           queue,
		runTimeout:      runTimeout,
		log:             log.With().Str("component", "pipeline_handler").Logger(),
	}
}

// RunPipeline godoc
// POST /api/v1/pipeline/run
// Body (optional): {"force": true}. Runs extract, aggregate and load now.
func (h *PipelineHandler) RunPipeline(c *gin.Context) {
	var opts service.RunOptions
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &opts); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	ctx := c.Request.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	report, err := h.pipelineService.Run(ctx, opts)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// JobStatus godoc
// GET /api/v1/jobs/:id
func (h *PipelineHandler) JobStatus(c *gin.Context) {
	if h.queue == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrQueueDisabled)
		return
	}

	status, err := h.queue.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"job_id": c.Param("id"), "job": status})
}

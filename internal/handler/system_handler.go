package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/response"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/rs/zerolog"
)

// SystemHandler reports service health.
type SystemHandler struct {
	uploadService   *service.UploadService
	pipelineService *service.PipelineService
	queue           *service.JobQueue
	startTime       time.Time
	log             zerolog.Logger
}

func NewSystemHandler(
	uploadService *service.UploadService,
	pipelineService *service.PipelineService,
	queue *service.JobQueue,
	log zerolog.Logger,
) *SystemHandler {
	return &SystemHandler{
		uploadService:   uploadService,
		pipelineService: pipelineService,
		queue:           queue,
		startTime:       time.Now(),
		log:             log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status            string `json:"status"`
	UploadDir         string `json:"upload_dir"`
	TotalFiles        int    `json:"total_files"`
	Uptime            string `json:"uptime"`
	ExtractionEnabled bool   `json:"extraction_enabled"`
	QueueEnabled      bool   `json:"queue_enabled"`
	QueuePending      *int64 `json:"queue_pending,omitempty"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	total, err := h.uploadService.CountFiles()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count uploads")
	}

	status := healthStatus{
		Status:            "ok",
		UploadDir:         h.uploadService.UploadDir(),
		TotalFiles:        total,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ExtractionEnabled: h.pipelineService.ExtractionEnabled(),
		QueueEnabled:      h.queue != nil,
	}

	if h.queue != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if n, err := h.queue.Pending(ctx); err == nil {
			status.QueuePending = &n
		} else {
			h.log.Warn().Err(err).Msg("Queue length unavailable")
			status.Status = "degraded"
		}
	}

	response.Success(c, http.StatusOK, status)
}

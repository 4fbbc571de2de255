package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/response"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/validator"
	"github.com/rs/zerolog"
)

const (
	// maxImportBytes caps the interchange document accepted by Import.
	maxImportBytes = 10 << 20
	maxRecordBytes = 64 << 10
)

// ClassHandler serves the gym class queries and imports.
type ClassHandler struct {
	scheduleService *service.ScheduleService
	log             zerolog.Logger
}

// NewClassHandler creates a new ClassHandler.
func NewClassHandler(scheduleService *service.ScheduleService, log zerolog.Logger) *ClassHandler {
	return &ClassHandler{
		scheduleService: scheduleService,
		log:             log.With().Str("component", "class_handler").Logger(),
	}
}

// ListClasses godoc
// GET /api/v1/classes?date=&activity=&day=&min_vacancy=
// Applies the first set filter in that order; no filter lists everything.
func (h *ClassHandler) ListClasses(c *gin.Context) {
	var q service.ClassQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	classes, err := h.scheduleService.Query(c.Request.Context(), q)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.SuccessWithCount(c, http.StatusOK, gin.H{"filter": q.Describe(), "classes": classes}, len(classes))
}

// Summary godoc
// GET /api/v1/classes/summary
func (h *ClassHandler) Summary(c *gin.Context) {
	counts, err := h.scheduleService.Summary(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.SuccessWithCount(c, http.StatusOK, gin.H{"activities": counts}, len(counts))
}

// UpsertClass godoc
// PUT /api/v1/classes
// Inserts or replaces one class identified by (date, timeslot, activity).
func (h *ClassHandler) UpsertClass(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordBytes))
	if err != nil {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}

	// Same strict decoding as an import entry: every field must be present.
	rec, err := model.DecodeRecord(body)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	result, err := h.scheduleService.Upsert(c.Request.Context(), rec)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	status := http.StatusOK
	if result == model.Inserted {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"result": result.String(), "key": rec.Key()})
}

// ImportClasses godoc
// POST /api/v1/classes/import
// Body is a {"classes": [...]} document. The batch is all or nothing.
func (h *ClassHandler) ImportClasses(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	stats, err := h.scheduleService.Import(c.Request.Context(), body)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	h.log.Info().Str("request_id", response.RequestID(c)).Int("inserted", stats.Inserted).Int("updated", stats.Updated).Msg("Schedule imported")
	response.Success(c, http.StatusOK, stats)
}

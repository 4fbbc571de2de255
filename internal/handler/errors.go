package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/response"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/rs/zerolog"
)

// fail maps a service or store error onto the API error envelope.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	var (
		batchErr  *model.BatchError
		recErr    *model.ValidationError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &batchErr):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, batchErr.FieldErrors())
	case errors.As(err, &recErr):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, recErr.Fields)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		response.FailWithMessage(c, http.StatusBadRequest, response.ErrInvalidPayload,
			response.GetMessage(response.ErrInvalidPayload)+": "+err.Error())
	case errors.Is(err, model.ErrNoClasses):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"classes": "classes is a required field"})
	case errors.Is(err, store.ErrClosed):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStoreClosed)
	case errors.Is(err, store.ErrResource):
		log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg("Store unavailable")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStorageUnavailable)
	case errors.Is(err, service.ErrPipelineBusy):
		response.Fail(c, http.StatusConflict, response.ErrPipelineBusy)
	case errors.Is(err, service.ErrExtractionDisabled):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrExtractionDisabled)
	case errors.Is(err, service.ErrJobNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		c.Status(499)
	default:
		log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg("Unhandled error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

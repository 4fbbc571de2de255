package handler

import (
	_ "embed"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/response"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/rs/zerolog"
)

//go:embed templates/upload.html
var uploadPage []byte

// UploadHandler serves the mobile upload page and accepts screenshots.
type UploadHandler struct {
	uploadService *service.UploadService
	queue         *service.JobQueue
	log           zerolog.Logger
}

// NewUploadHandler creates a new UploadHandler. queue may be nil, in which
// case uploads are only stored.
func NewUploadHandler(uploadService *service.UploadService, queue *service.JobQueue, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		queue:         queue,
		log:           log.With().Str("component", "upload_handler").Logger(),
	}
}

// UploadResult is the body of a POST /upload response.
type UploadResult struct {
	Success int                 `json:"success"`
	Failed  int                 `json:"failed"`
	Files   []service.SavedFile `json:"files"`
	Errors  []string            `json:"errors"`
}

// Page godoc
// GET /
func (h *UploadHandler) Page(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", uploadPage)
}

// Upload godoc
// POST /upload
// Stores every image of the multipart "files" field. A rejected file is
// reported in errors and does not fail the others.
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}

	result := UploadResult{Files: []service.SavedFile{}, Errors: []string{}}

	for _, header := range form.File["files"] {
		saved, err := h.save(c, header)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", header.Filename, uploadErrorText(err)))
			h.log.Warn().Err(err).Str("request_id", response.RequestID(c)).Str("file", header.Filename).Msg("Upload rejected")
			continue
		}
		result.Files = append(result.Files, *saved)
	}

	result.Success = len(result.Files)
	result.Failed = len(result.Errors)
	response.Success(c, http.StatusOK, result)
}

func (h *UploadHandler) save(c *gin.Context, header *multipart.FileHeader) (*service.SavedFile, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	saved, err := h.uploadService.SaveUpload(file, header)
	if err != nil {
		return nil, err
	}

	if h.queue != nil {
		jobID, err := h.queue.Enqueue(c.Request.Context(), saved.Path)
		if err != nil {
			// The file is on disk; the next scan or pipeline run picks it up.
			h.log.Error().Err(err).Str("request_id", response.RequestID(c)).Str("file", saved.SavedAs).Msg("Failed to enqueue extraction")
		} else {
			saved.JobID = jobID
		}
	}
	return saved, nil
}

func uploadErrorText(err error) string {
	if errors.Is(err, service.ErrUnsupportedFileType) || errors.Is(err, service.ErrFileTooLarge) {
		return err.Error()
	}
	return response.GetMessage(response.ErrInternal)
}

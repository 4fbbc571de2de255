package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/fsutil"
	"github.com/rs/zerolog"
)

// Sentinel errors for screenshot uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// SavedFile describes one stored upload.
type SavedFile struct {
	Original string `json:"original"`
	SavedAs  string `json:"saved_as"`
	Size     int64  `json:"size"`
	JobID    string `json:"job_id,omitempty"`
	// Path is the absolute location on disk.
	Path string `json:"-"`
}

// UploadService stores screenshots in the image directory.
type UploadService struct {
	cfg *config.Config
	now func() time.Time
	log zerolog.Logger
}

// NewUploadService creates a new UploadService.
func NewUploadService(cfg *config.Config, log zerolog.Logger) *UploadService {
	return &UploadService{
		cfg: cfg,
		now: time.Now,
		log: log.With().Str("component", "upload_service").Logger(),
	}
}

// SaveUpload writes an uploaded screenshot to the image directory as
// gym_<timestamp>_<id><ext>.
func (s *UploadService) SaveUpload(file multipart.File, header *multipart.FileHeader) (*SavedFile, error) {
	contentType := header.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: not an image (%s)", ErrUnsupportedFileType, contentType)
	}
	ext, ok := fsutil.ExtensionForMIME(contentType)
	if !ok {
		return nil, fmt.Errorf("%w: %s (allowed: png, jpeg, webp)", ErrUnsupportedFileType, contentType)
	}

	if s.cfg.MaxUploadBytes > 0 && header.Size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, s.cfg.MaxUploadBytes)
	}

	if err := os.MkdirAll(s.cfg.ImageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	now := s.now()
	filename := fmt.Sprintf("gym_%s_%06d_%s%s",
		now.Format("20060102_150405"), now.Nanosecond()/1000, uuid.NewString()[:8], ext)
	destPath := filepath.Join(s.cfg.ImageDir, filename)

	dst, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("write file: %w", err)
	}

	original := header.Filename
	if original == "" {
		original = "screenshot" + ext
	}

	s.log.Info().Str("file", filename).Int64("size", n).Msg("Screenshot uploaded")

	abs, err := filepath.Abs(destPath)
	if err != nil {
		abs = destPath
	}
	return &SavedFile{Original: original, SavedAs: filename, Size: n, Path: abs}, nil
}

// UploadDir returns the absolute image directory.
func (s *UploadService) UploadDir() string {
	abs, err := filepath.Abs(s.cfg.ImageDir)
	if err != nil {
		return s.cfg.ImageDir
	}
	return abs
}

// CountFiles returns the number of regular files in the image directory.
// A missing directory counts as empty.
func (s *UploadService) CountFiles() (int, error) {
	entries, err := os.ReadDir(s.cfg.ImageDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}

package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gymtable/gymtable-backend/internal/fsutil"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/rs/zerolog"
)

// ExtractError carries the raw engine reply when it could not be decoded.
type ExtractError struct {
	Image string
	Raw   string
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", filepath.Base(e.Image), e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Extractor runs an Engine over images and writes per-image JSON files.
type Extractor struct {
	engine  Engine
	timeout time.Duration
	log     zerolog.Logger
}

// New creates an Extractor. A zero timeout leaves the caller's deadline alone.
func New(engine Engine, timeout time.Duration, log zerolog.Logger) *Extractor {
	return &Extractor{
		engine:  engine,
		timeout: timeout,
		log:     log.With().Str("component", "extractor").Logger(),
	}
}

// Extract reads one image and returns the decoded schedule together with the
// normalised interchange JSON.
func (e *Extractor) Extract(ctx context.Context, imagePath string) (model.Schedule, []byte, error) {
	if !fsutil.IsImage(imagePath) {
		return model.Schedule{}, nil, fmt.Errorf("unsupported image type: %s", imagePath)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := e.engine.ExtractImage(ctx, imagePath)
	if err != nil {
		return model.Schedule{}, nil, &ExtractError{Image: imagePath, Err: err}
	}

	sched, err := model.DecodeSchedule([]byte(CleanJSONMarkdown(raw)))
	if err != nil {
		return model.Schedule{}, nil, &ExtractError{Image: imagePath, Raw: raw, Err: err}
	}

	data, err := json.MarshalIndent(sched, "", "  ")
	if err != nil {
		return model.Schedule{}, nil, fmt.Errorf("encode schedule: %w", err)
	}
	return sched, data, nil
}

// OutputPath returns where ExtractToFile writes the JSON for imagePath.
func OutputPath(imagePath, outDir string) string {
	return filepath.Join(outDir, fsutil.Stem(imagePath)+".json")
}

// ExtractToFile extracts imagePath and writes <stem>.json into outDir.
func (e *Extractor) ExtractToFile(ctx context.Context, imagePath, outDir string) (string, error) {
	sched, data, err := e.Extract(ctx, imagePath)
	if err != nil {
		return "", err
	}

	out := OutputPath(imagePath, outDir)
	if err := fsutil.WriteFileAtomic(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}

	e.log.Info().
		Str("image", imagePath).
		Str("output", out).
		Int("classes", len(sched.Classes)).
		Msg("Image extracted")

	return out, nil
}

// FileError names one image that failed during a directory run.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// DirReport summarises ExtractDir.
type DirReport struct {
	Written  []string    `json:"written"`
	UpToDate []string    `json:"up_to_date"`
	Failed   []FileError `json:"failed"`
}

// ExtractDir extracts every supported image in imgDir into outDir. Images
// whose JSON is newer than the image are skipped unless force is set. One
// failing image is logged and reported; the run carries on.
func (e *Extractor) ExtractDir(ctx context.Context, imgDir, outDir string, force bool) (DirReport, error) {
	report := DirReport{Written: []string{}, UpToDate: []string{}, Failed: []FileError{}}

	entries, err := os.ReadDir(imgDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.log.Warn().Str("dir", imgDir).Msg("Image directory does not exist")
			return report, nil
		}
		return report, fmt.Errorf("read image dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && fsutil.IsImage(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		imagePath := filepath.Join(imgDir, name)
		if !force && upToDate(imagePath, OutputPath(imagePath, outDir)) {
			report.UpToDate = append(report.UpToDate, imagePath)
			continue
		}

		out, err := e.ExtractToFile(ctx, imagePath, outDir)
		if err != nil {
			e.log.Warn().Err(err).Str("image", imagePath).Msg("Extraction failed, skipping image")
			report.Failed = append(report.Failed, FileError{Path: imagePath, Err: err.Error()})
			continue
		}
		report.Written = append(report.Written, out)
	}

	e.log.Info().
		Int("written", len(report.Written)).
		Int("up_to_date", len(report.UpToDate)).
		Int("failed", len(report.Failed)).
		Msg("Extraction pass finished")

	return report, nil
}

func upToDate(imagePath, jsonPath string) bool {
	img, err := os.Stat(imagePath)
	if err != nil {
		return false
	}
	out, err := os.Stat(jsonPath)
	if err != nil {
		return false
	}
	return !out.ModTime().Before(img.ModTime())
}

package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/fsutil"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ErrMissingAPIKey is returned by NewGeminiEngine without an API key.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// GeminiConfig configures the Gemini engine.
type GeminiConfig struct {
	APIKey string
	Model  string
	// Today anchors relative dates in the screenshot. Defaults to time.Now.
	Today func() time.Time
}

// GeminiEngine extracts schedules with the Gemini API.
type GeminiEngine struct {
	client *genai.Client
	model  string
	today  func() time.Time
	log    zerolog.Logger
}

// NewGeminiEngine creates a Gemini client.
func NewGeminiEngine(ctx context.Context, cfg GeminiConfig, log zerolog.Logger) (*GeminiEngine, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model name is empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	today := cfg.Today
	if today == nil {
		today = time.Now
	}

	return &GeminiEngine{
		client: client,
		model:  cfg.Model,
		today:  today,
		log:    log.With().Str("component", "gemini").Logger(),
	}, nil
}

// ExtractImage sends the image inline together with the extraction prompt and
// returns the cleaned JSON reply.
func (g *GeminiEngine) ExtractImage(ctx context.Context, imagePath string) (string, error) {
	mime, ok := fsutil.ImageMIMEType(imagePath)
	if !ok {
		return "", fmt.Errorf("unsupported image type: %s", imagePath)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mime),
			genai.NewPartFromText(Prompt(g.today())),
		}, genai.RoleUser),
	}

	g.log.Debug().Str("image", imagePath).Str("model", g.model).Msg("Sending extraction request")

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   scheduleSchema,
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return CleanJSONMarkdown(text), nil
}

// Prompt is the instruction sent with every screenshot.
func Prompt(today time.Time) string {
	return "This is a screenshot of my gym timetable. Extract out the schedule details, " +
		"including date, day of week, timeslot, activity, venue, class type, and vacancy " +
		"for each class. Date should be in a near future of " + today.Format(model.DateLayout) +
		" and formatted as 'YYYY-MM-DD'. Vacancy is the number of open spots as an integer."
}

// scheduleSchema mirrors model.Schedule so the reply decodes strictly.
var scheduleSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"classes": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"date":        {Type: genai.TypeString, Description: "YYYY-MM-DD"},
					"day_of_week": {Type: genai.TypeString},
					"timeslot":    {Type: genai.TypeString},
					"activity":    {Type: genai.TypeString},
					"venue":       {Type: genai.TypeString},
					"class_type":  {Type: genai.TypeString},
					"vacancy":     {Type: genai.TypeInteger},
				},
				Required: []string{"date", "day_of_week", "timeslot", "activity", "venue", "class_type", "vacancy"},
				PropertyOrdering: []string{
					"date", "day_of_week", "timeslot", "activity", "venue", "class_type", "vacancy",
				},
			},
		},
	},
	Required: []string{"classes"},
}

// FromConfig builds a Gemini-backed Extractor from the application config.
// Without an API key it returns ErrMissingAPIKey.
func FromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Extractor, error) {
	engine, err := NewGeminiEngine(ctx, GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModelName,
	}, log)
	if err != nil {
		return nil, err
	}
	return New(engine, cfg.ExtractTimeout, log), nil
}

// Package extractor turns timetable screenshots into interchange JSON using
// a vision-language engine.
package extractor

import (
	"context"
	"strings"
)

// Engine reads one timetable image and returns the model's raw JSON reply.
type Engine interface {
	ExtractImage(ctx context.Context, imagePath string) (string, error)
}

// CleanJSONMarkdown strips a ```json … ``` fence some models wrap around
// their output.
func CleanJSONMarkdown(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "```json"); ok {
		text = rest
	} else if rest, ok := strings.CutPrefix(text, "```"); ok {
		text = rest
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

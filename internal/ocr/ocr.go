// Package ocr extracts text from captured frames. The default engine
// shells out to the tesseract binary; the Engine interface keeps the
// rest of the bot independent of the backend.
package ocr

import (
	"context"
	"image"
	"strings"

	"github.com/afk2auto/afkbot/internal/logging"
)

// TextResult is one recognized text fragment with its screen location.
type TextResult struct {
	Text       string
	Confidence float64
	Bounds     image.Rectangle
}

// Center returns the midpoint of the fragment's bounding box,
// suitable as a tap target.
func (tr TextResult) Center() image.Point {
	return image.Point{
		X: tr.Bounds.Min.X + tr.Bounds.Dx()/2,
		Y: tr.Bounds.Min.Y + tr.Bounds.Dy()/2,
	}
}

// Engine extracts text fragments from an image.
type Engine interface {
	Recognize(ctx context.Context, img *image.RGBA) ([]TextResult, error)
}

// Recognizer wraps an Engine with a confidence floor and search
// helpers. Fragments below the floor are discarded before callers
// see them.
type Recognizer struct {
	engine Engine
	floor  float64
	logger *logging.Logger
}

// NewRecognizer creates a recognizer. floor is the minimum confidence
// in [0,1] a fragment must reach to be reported.
func NewRecognizer(engine Engine, floor float64, logger *logging.Logger) *Recognizer {
	return &Recognizer{engine: engine, floor: floor, logger: logger}
}

// GetAllText returns every fragment at or above the confidence floor.
func (r *Recognizer) GetAllText(ctx context.Context, img *image.RGBA) ([]TextResult, error) {
	results, err := r.engine.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	kept := make([]TextResult, 0, len(results))
	for _, res := range results {
		if res.Confidence >= r.floor {
			kept = append(kept, res)
		}
	}
	if r.logger != nil {
		r.logger.Debugf("ocr returned %d fragments above floor %.2f", len(kept), r.floor)
	}
	return kept, nil
}

// FindText returns the first fragment in reading order whose text
// contains the target, case-insensitively. The second return is false
// when no fragment matches; that is a normal outcome, not an error.
func (r *Recognizer) FindText(ctx context.Context, img *image.RGBA, target string) (TextResult, bool, error) {
	results, err := r.GetAllText(ctx, img)
	if err != nil {
		return TextResult{}, false, err
	}
	needle := strings.ToLower(target)
	for _, res := range results {
		if strings.Contains(strings.ToLower(res.Text), needle) {
			return res, true, nil
		}
	}
	return TextResult{}, false, nil
}

// HasText reports whether the target appears anywhere in the image.
func (r *Recognizer) HasText(ctx context.Context, img *image.RGBA, target string) (bool, error) {
	_, found, err := r.FindText(ctx, img, target)
	return found, err
}

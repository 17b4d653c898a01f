package cv

import (
	"context"
	"image"
	"math"
	"sort"
	"time"
)

// MatchResult contains the outcome of one template match. Found is false
// for a normal negative result; it is never an error.
type MatchResult struct {
	Found      bool
	Location   image.Point
	Confidence float64
}

// MatchConfig configures template matching
type MatchConfig struct {
	Threshold    float64          // 0.0-1.0, higher = more strict
	SearchRegion *image.Rectangle // optional: limit search area
	MaxMatches   int              // for FindAll, 0 = unlimited
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{Threshold: 0.85}
}

// FindTemplate locates the best match of a prepared template within a
// prepared frame. The result is Found when the peak correlation reaches
// the configured threshold.
func FindTemplate(frame, tmpl *Prepared, config *MatchConfig) *MatchResult {
	if config == nil {
		config = DefaultMatchConfig()
	}

	searchBounds, ok := searchArea(frame, tmpl, config)
	if !ok {
		return &MatchResult{}
	}

	tw := tmpl.bounds.Dx()
	th := tmpl.bounds.Dy()

	best := MatchResult{}
	for y := searchBounds.Min.Y; y <= searchBounds.Max.Y-th; y++ {
		for x := searchBounds.Min.X; x <= searchBounds.Max.X-tw; x++ {
			score := nccScore(frame.edges, tmpl.edges, x, y, tw, th)
			if score > best.Confidence {
				best.Confidence = score
				best.Location = image.Point{X: x, Y: y}
			}
		}
	}

	best.Found = best.Confidence >= config.Threshold
	return &best
}

// FindTemplateAll returns every non-overlapping match at or above the
// threshold, strongest first. Used for counting repeated UI elements.
func FindTemplateAll(frame, tmpl *Prepared, config *MatchConfig) []MatchResult {
	if config == nil {
		config = DefaultMatchConfig()
	}

	searchBounds, ok := searchArea(frame, tmpl, config)
	if !ok {
		return nil
	}

	tw := tmpl.bounds.Dx()
	th := tmpl.bounds.Dy()

	var candidates []MatchResult
	for y := searchBounds.Min.Y; y <= searchBounds.Max.Y-th; y++ {
		for x := searchBounds.Min.X; x <= searchBounds.Max.X-tw; x++ {
			score := nccScore(frame.edges, tmpl.edges, x, y, tw, th)
			if score >= config.Threshold {
				candidates = append(candidates, MatchResult{
					Found:      true,
					Location:   image.Point{X: x, Y: y},
					Confidence: score,
				})
			}
		}
	}

	// Greedy non-maximum suppression: keep strongest, drop overlaps
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	var results []MatchResult
	for _, c := range candidates {
		rect := image.Rect(c.Location.X, c.Location.Y, c.Location.X+tw, c.Location.Y+th)
		overlaps := false
		for _, kept := range results {
			keptRect := image.Rect(kept.Location.X, kept.Location.Y, kept.Location.X+tw, kept.Location.Y+th)
			if rect.Overlaps(keptRect) {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		results = append(results, c)
		if config.MaxMatches > 0 && len(results) >= config.MaxMatches {
			break
		}
	}
	return results
}

// FrameFunc supplies fresh frames to polling operations
type FrameFunc func(ctx context.Context) (*image.RGBA, error)

// WaitForTemplate polls for a template until it appears or the timeout
// elapses. Timeout is a normal outcome, reported through Found=false;
// the error return carries only capture failures or ctx cancellation.
func WaitForTemplate(ctx context.Context, capture FrameFunc, tmpl *Prepared, config *MatchConfig, interval, timeout time.Duration) (*MatchResult, error) {
	deadline := time.Now().Add(timeout)

	for {
		raw, err := capture(ctx)
		if err != nil {
			return nil, err
		}

		result := FindTemplate(Prepare(raw), tmpl, config)
		if result.Found {
			return result, nil
		}

		if time.Now().After(deadline) {
			return &MatchResult{Confidence: result.Confidence}, nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func searchArea(frame, tmpl *Prepared, config *MatchConfig) (image.Rectangle, bool) {
	frameBounds := frame.bounds
	if tmpl.bounds.Dx() > frameBounds.Dx() || tmpl.bounds.Dy() > frameBounds.Dy() {
		return image.Rectangle{}, false
	}

	searchBounds := frameBounds
	if config.SearchRegion != nil {
		searchBounds = config.SearchRegion.Intersect(frameBounds)
		if searchBounds.Empty() {
			return image.Rectangle{}, false
		}
	}
	if searchBounds.Max.Y-tmplHeight(tmpl) < searchBounds.Min.Y ||
		searchBounds.Max.X-tmplWidth(tmpl) < searchBounds.Min.X {
		return image.Rectangle{}, false
	}
	return searchBounds, true
}

func tmplWidth(t *Prepared) int  { return t.bounds.Dx() }
func tmplHeight(t *Prepared) int { return t.bounds.Dy() }

// nccScore computes normalized cross-correlation between the template
// and the frame region at (x, y), mapped from [-1, 1] to [0, 1].
func nccScore(frame, tmpl *image.Gray, x, y, width, height int) float64 {
	var sumF, sumT, sumFT, sumFF, sumTT float64
	n := float64(width * height)

	tb := tmpl.Bounds()
	for ty := 0; ty < height; ty++ {
		for tx := 0; tx < width; tx++ {
			f := float64(frame.GrayAt(x+tx, y+ty).Y)
			t := float64(tmpl.GrayAt(tb.Min.X+tx, tb.Min.Y+ty).Y)

			sumF += f
			sumT += t
			sumFT += f * t
			sumFF += f * f
			sumTT += t * t
		}
	}

	numerator := sumFT - sumF*sumT/n
	denomF := math.Sqrt(sumFF - sumF*sumF/n)
	denomT := math.Sqrt(sumTT - sumT*sumT/n)

	if denomF == 0 || denomT == 0 {
		return 0
	}

	score := (numerator/(denomF*denomT) + 1) / 2
	return math.Max(0, math.Min(1, score))
}

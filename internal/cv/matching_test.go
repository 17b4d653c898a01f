package cv

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noiseFrame builds a mid-gray frame with a deterministic noise block,
// giving the matcher a pattern with a single sharp correlation peak.
func noiseFrame(w, h int, block image.Rectangle, seed int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	rng := rand.New(rand.NewSource(seed))
	for y := block.Min.Y; y < block.Max.Y; y++ {
		for x := block.Min.X; x < block.Max.X; x++ {
			v := uint8(rng.Intn(256))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// cutout copies a frame region into a standalone image.
func cutout(src *image.RGBA, rect image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, src.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}

func TestFindTemplateLocatesPattern(t *testing.T) {
	frame := noiseFrame(64, 64, image.Rect(20, 16, 40, 36), 1)
	tmplRect := image.Rect(24, 20, 36, 32)
	tmpl := Prepare(cutout(frame, tmplRect))

	result := FindTemplate(Prepare(frame), tmpl, &MatchConfig{Threshold: 0})

	require.True(t, result.Found)
	assert.Equal(t, tmplRect.Min, result.Location)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestFindTemplateThresholdBoundary(t *testing.T) {
	frame := noiseFrame(64, 64, image.Rect(20, 16, 40, 36), 2)
	tmplRect := image.Rect(24, 20, 36, 32)
	tmpl := Prepare(cutout(frame, tmplRect))
	prepared := Prepare(frame)

	peak := FindTemplate(prepared, tmpl, &MatchConfig{Threshold: 0})
	require.True(t, peak.Found)

	// Confidence exactly at the threshold counts as found.
	atThreshold := FindTemplate(prepared, tmpl, &MatchConfig{Threshold: peak.Confidence})
	assert.True(t, atThreshold.Found)

	aboveThreshold := FindTemplate(prepared, tmpl, &MatchConfig{Threshold: peak.Confidence + 0.01})
	assert.False(t, aboveThreshold.Found)
	// The best location and confidence are still reported on a miss.
	assert.Equal(t, peak.Confidence, aboveThreshold.Confidence)
}

func TestFindTemplateSearchRegion(t *testing.T) {
	frame := noiseFrame(64, 64, image.Rect(20, 16, 40, 36), 3)
	tmplRect := image.Rect(24, 20, 36, 32)
	tmpl := Prepare(cutout(frame, tmplRect))
	prepared := Prepare(frame)

	// Region containing the pattern finds it.
	inRegion := image.Rect(16, 12, 44, 40)
	result := FindTemplate(prepared, tmpl, &MatchConfig{Threshold: 0, SearchRegion: &inRegion})
	require.True(t, result.Found)
	assert.Equal(t, tmplRect.Min, result.Location)

	// Region excluding it scores nothing: the background is uniform.
	outRegion := image.Rect(44, 40, 64, 64)
	miss := FindTemplate(prepared, tmpl, &MatchConfig{Threshold: 0.5, SearchRegion: &outRegion})
	assert.False(t, miss.Found)
}

func TestFindTemplateTooLarge(t *testing.T) {
	frame := Prepare(noiseFrame(16, 16, image.Rect(0, 0, 16, 16), 4))
	tmpl := Prepare(noiseFrame(32, 32, image.Rect(0, 0, 32, 32), 5))

	result := FindTemplate(frame, tmpl, nil)
	assert.False(t, result.Found)
	assert.Zero(t, result.Confidence)
}

func TestFindTemplateAllNonOverlapping(t *testing.T) {
	// Two copies of the same noise block, far apart.
	frame := image.NewRGBA(image.Rect(0, 0, 96, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 96; x++ {
			frame.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	rng := rand.New(rand.NewSource(6))
	patch := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8(rng.Intn(256))
			patch.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	for _, origin := range []image.Point{{X: 8, Y: 16}, {X: 64, Y: 16}} {
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				frame.Set(origin.X+x, origin.Y+y, patch.At(x, y))
			}
		}
	}

	tmpl := Prepare(cutout(frame, image.Rect(10, 18, 22, 30)))
	results := FindTemplateAll(Prepare(frame), tmpl, &MatchConfig{Threshold: 0.7})

	require.Len(t, results, 2)
	// Strongest first, and no two results overlap.
	assert.GreaterOrEqual(t, results[0].Confidence, results[1].Confidence)
	r0 := image.Rect(results[0].Location.X, results[0].Location.Y, results[0].Location.X+12, results[0].Location.Y+12)
	r1 := image.Rect(results[1].Location.X, results[1].Location.Y, results[1].Location.X+12, results[1].Location.Y+12)
	assert.False(t, r0.Overlaps(r1))
}

func TestFindTemplateAllMaxMatches(t *testing.T) {
	frame := noiseFrame(64, 64, image.Rect(20, 16, 40, 36), 7)
	tmpl := Prepare(cutout(frame, image.Rect(24, 20, 36, 32)))

	results := FindTemplateAll(Prepare(frame), tmpl, &MatchConfig{Threshold: 0.1, MaxMatches: 1})
	assert.Len(t, results, 1)
}

func TestWaitForTemplateTimeoutIsNotError(t *testing.T) {
	empty := noiseFrame(32, 32, image.Rect(0, 0, 0, 0), 8)
	tmpl := Prepare(noiseFrame(8, 8, image.Rect(0, 0, 8, 8), 9))

	captures := 0
	capture := func(ctx context.Context) (*image.RGBA, error) {
		captures++
		return empty, nil
	}

	result, err := WaitForTemplate(context.Background(), capture, tmpl, &MatchConfig{Threshold: 0.9}, time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.GreaterOrEqual(t, captures, 1)
}

func TestWaitForTemplateFindsLateAppearance(t *testing.T) {
	blank := noiseFrame(64, 64, image.Rect(0, 0, 0, 0), 10)
	full := noiseFrame(64, 64, image.Rect(20, 16, 40, 36), 11)
	tmpl := Prepare(cutout(full, image.Rect(24, 20, 36, 32)))

	captures := 0
	capture := func(ctx context.Context) (*image.RGBA, error) {
		captures++
		if captures < 3 {
			return blank, nil
		}
		return full, nil
	}

	result, err := WaitForTemplate(context.Background(), capture, tmpl, &MatchConfig{Threshold: 0.5}, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, 3, captures)
}

func TestWaitForTemplateCaptureError(t *testing.T) {
	wantErr := errors.New("screen gone")
	capture := func(ctx context.Context) (*image.RGBA, error) {
		return nil, wantErr
	}
	tmpl := Prepare(noiseFrame(8, 8, image.Rect(0, 0, 8, 8), 12))

	_, err := WaitForTemplate(context.Background(), capture, tmpl, nil, time.Millisecond, time.Second)
	assert.ErrorIs(t, err, wantErr)
}

func TestWaitForTemplateContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blank := noiseFrame(32, 32, image.Rect(0, 0, 0, 0), 13)
	capture := func(ctx context.Context) (*image.RGBA, error) {
		cancel()
		return blank, nil
	}
	tmpl := Prepare(noiseFrame(8, 8, image.Rect(0, 0, 8, 8), 14))

	_, err := WaitForTemplate(ctx, capture, tmpl, &MatchConfig{Threshold: 0.99}, 50*time.Millisecond, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	"github.com/afk2auto/afkbot/internal/config"
)

// Tesseract runs the tesseract binary over stdin/stdout in TSV mode.
type Tesseract struct {
	binary   string
	language string
}

// NewTesseract locates the tesseract binary on PATH. A missing binary
// is a configuration problem reported at startup rather than a runtime
// surprise.
func NewTesseract(language string) (*Tesseract, error) {
	path, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, &config.ConfigurationError{
			Field:  "recognition.ocr_language",
			Reason: "tesseract binary not found on PATH",
		}
	}
	if language == "" {
		language = "eng"
	}
	return &Tesseract{binary: path, language: language}, nil
}

// Recognize encodes the image to PNG, pipes it through tesseract and
// parses the TSV output into positioned text fragments.
func (t *Tesseract) Recognize(ctx context.Context, img *image.RGBA) ([]TextResult, error) {
	var input bytes.Buffer
	if err := png.Encode(&input, img); err != nil {
		return nil, fmt.Errorf("encode frame for ocr: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", t.language, "tsv")
	cmd.Stdin = &input
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}

	return parseTSV(string(output))
}

// parseTSV converts tesseract TSV output into text results. Columns:
// level page block par line word left top width height conf text.
// Rows with conf -1 are layout markers and carry no text.
func parseTSV(output string) ([]TextResult, error) {
	lines := strings.Split(output, "\n")
	results := make([]TextResult, 0, len(lines))

	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}

		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}

		left, err1 := strconv.Atoi(fields[6])
		top, err2 := strconv.Atoi(fields[7])
		width, err3 := strconv.Atoi(fields[8])
		height, err4 := strconv.Atoi(fields[9])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		results = append(results, TextResult{
			Text:       text,
			Confidence: conf / 100.0,
			Bounds:     image.Rect(left, top, left+width, top+height),
		})
	}

	return results, nil
}

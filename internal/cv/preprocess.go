package cv

import (
	"image"
	"image/color"
	"math"
)

// Prepared is the luminance/edge representation an image is reduced to
// before matching. Raw color matching is unreliable against dynamic
// backgrounds, so correlation runs over edge magnitudes instead.
type Prepared struct {
	edges  *image.Gray
	bounds image.Rectangle
}

// Prepare converts an RGBA image into its edge representation
func Prepare(img *image.RGBA) *Prepared {
	lum := toLuminance(img)
	return &Prepared{
		edges:  sobelMagnitude(lum),
		bounds: img.Bounds(),
	}
}

// Bounds returns the pixel bounds of the prepared image
func (p *Prepared) Bounds() image.Rectangle {
	return p.bounds
}

// toLuminance collapses RGB to a single luminance channel
func toLuminance(img *image.RGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			idx := (y-bounds.Min.Y)*img.Stride + (x-bounds.Min.X)*4
			r := int(img.Pix[idx])
			g := int(img.Pix[idx+1])
			b := int(img.Pix[idx+2])
			gray.SetGray(x, y, imageGray((r*299+g*587+b*114)/1000))
		}
	}
	return gray
}

// sobelMagnitude computes per-pixel gradient magnitude. Border pixels
// stay zero; the one pixel margin is negligible at screen resolution.
func sobelMagnitude(gray *image.Gray) *image.Gray {
	bounds := gray.Bounds()
	edges := image.NewGray(bounds)

	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			gx := gradientX(gray, x, y)
			gy := gradientY(gray, x, y)

			magnitude := math.Sqrt(float64(gx*gx + gy*gy))
			if magnitude > 255 {
				magnitude = 255
			}
			edges.SetGray(x, y, imageGray(int(magnitude)))
		}
	}
	return edges
}

func gradientX(img *image.Gray, x, y int) int {
	return intensity(img, x+1, y-1) + 2*intensity(img, x+1, y) + intensity(img, x+1, y+1) -
		intensity(img, x-1, y-1) - 2*intensity(img, x-1, y) - intensity(img, x-1, y+1)
}

func gradientY(img *image.Gray, x, y int) int {
	return intensity(img, x-1, y+1) + 2*intensity(img, x, y+1) + intensity(img, x+1, y+1) -
		intensity(img, x-1, y-1) - 2*intensity(img, x, y-1) - intensity(img, x+1, y-1)
}

func intensity(img *image.Gray, x, y int) int {
	return int(img.GrayAt(x, y).Y)
}

func imageGray(v int) color.Gray {
	return color.Gray{Y: uint8(v)}
}

package cv

import "image"

// Region is a rectangular region of interest in frame coordinates
type Region struct {
	X1, Y1, X2, Y2 int
}

// NewRegion creates a new region
func NewRegion(x1, y1, x2, y2 int) Region {
	return Region{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width returns the width of the region
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height returns the height of the region
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// ToImageRectangle converts the region into an *image.Rectangle for matching
func (r Region) ToImageRectangle() *image.Rectangle {
	return &image.Rectangle{
		Min: image.Point{X: r.X1, Y: r.Y1},
		Max: image.Point{X: r.X2, Y: r.Y2},
	}
}

// Template is a named reference image used for matching. Templates are
// loaded once before the classifier starts and are immutable thereafter.
type Template struct {
	Name      string
	Path      string
	Threshold float64
	Region    *Region
	Scale     float64
}

// InRegion returns a copy with the search region set
func (t Template) InRegion(x1, y1, x2, y2 int) Template {
	region := NewRegion(x1, y1, x2, y2)
	t.Region = &region
	return t
}

// WithThreshold returns a copy with the matching threshold set
func (t Template) WithThreshold(threshold float64) Template {
	t.Threshold = threshold
	return t
}

package templates

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/afk2auto/afkbot/internal/cv"
)

// cachedImage holds a template's decoded image and its preprocessed
// form, loaded lazily and kept until evicted.
type cachedImage struct {
	tmpl     cv.Template
	mu       sync.RWMutex
	prepared *cv.Prepared
	preload  bool
	loads    int
}

// ImageCache loads template PNGs on demand, applies any configured
// scale, and caches the preprocessed result so repeated matches do
// not redo Sobel work.
type ImageCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedImage
	stats   CacheStats
}

// CacheStats tracks cache behavior.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Loads       int64
	Evictions   int64
	PreloadFail int64
}

// NewImageCache creates an empty cache.
func NewImageCache() *ImageCache {
	return &ImageCache{entries: make(map[string]*cachedImage)}
}

// Register adds a template to the cache without loading it.
func (c *ImageCache) Register(tmpl cv.Template, preload bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tmpl.Name] = &cachedImage{tmpl: tmpl, preload: preload}
}

// Get returns the preprocessed template image, loading it if needed.
func (c *ImageCache) Get(name string) (*cv.Prepared, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template %q not in image cache", name)
	}

	entry.mu.RLock()
	if entry.prepared != nil {
		defer entry.mu.RUnlock()
		c.bump(func(s *CacheStats) { s.Hits++ })
		return entry.prepared, nil
	}
	entry.mu.RUnlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.prepared != nil {
		c.bump(func(s *CacheStats) { s.Hits++ })
		return entry.prepared, nil
	}

	prep, err := loadPrepared(entry.tmpl)
	if err != nil {
		return nil, err
	}
	entry.prepared = prep
	entry.loads++
	c.bump(func(s *CacheStats) { s.Misses++; s.Loads++ })
	return prep, nil
}

// PreloadAll loads every entry registered with preload set.
func (c *ImageCache) PreloadAll() error {
	c.mu.RLock()
	pending := make([]string, 0, len(c.entries))
	for name, entry := range c.entries {
		if entry.preload {
			pending = append(pending, name)
		}
	}
	c.mu.RUnlock()

	var firstErr error
	failed := 0
	for _, name := range pending {
		if _, err := c.Get(name); err != nil {
			failed++
			c.bump(func(s *CacheStats) { s.PreloadFail++ })
			if firstErr == nil {
				firstErr = fmt.Errorf("preload %s: %w", name, err)
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%d template preload(s) failed: %w", failed, firstErr)
	}
	return nil
}

// Evict drops the cached image for a template, keeping the entry.
func (c *ImageCache) Evict(name string) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	if entry.prepared != nil {
		entry.prepared = nil
		c.bump(func(s *CacheStats) { s.Evictions++ })
	}
	entry.mu.Unlock()
}

// Clear drops every entry.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedImage)
}

// Stats returns a snapshot of the cache counters.
func (c *ImageCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *ImageCache) bump(fn func(*CacheStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// loadPrepared decodes the template PNG, applies the configured scale
// and returns the preprocessed edge image used by the matcher.
func loadPrepared(tmpl cv.Template) (*cv.Prepared, error) {
	f, err := os.Open(tmpl.Path)
	if err != nil {
		return nil, fmt.Errorf("open template image %s: %w", tmpl.Path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template image %s: %w", tmpl.Path, err)
	}

	rgba := toRGBA(img)
	if tmpl.Scale > 0 && tmpl.Scale != 1.0 {
		rgba = scaleRGBA(rgba, tmpl.Scale)
	}
	return cv.Prepare(rgba), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	xdraw.Draw(rgba, bounds, img, bounds.Min, xdraw.Src)
	return rgba
}

func scaleRGBA(src *image.RGBA, scale float64) *image.RGBA {
	bounds := src.Bounds()
	w := int(float64(bounds.Dx())*scale + 0.5)
	h := int(float64(bounds.Dy())*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}

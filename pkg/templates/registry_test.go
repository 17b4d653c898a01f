package templates

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afk2auto/afkbot/internal/config"
	"github.com/afk2auto/afkbot/internal/cv"
)

func writePNG(t *testing.T, path string, w, h int, seed int64) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(seed))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.Intn(256))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "ok_button.png"), 16, 16, 1)
	writePNG(t, filepath.Join(dir, "close.png"), 16, 16, 2)

	yaml := `
templates:
  - name: ok_button
    path: ok_button.png
    threshold: 0.9
    region:
      x1: 100
      y1: 200
      x2: 300
      y2: 400
  - name: close
    path: close.png
    scale: 0.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ui.yaml"), []byte(yaml), 0644))

	r := NewRegistry(dir)
	require.NoError(t, r.LoadFromFile(filepath.Join(dir, "ui.yaml")))
	assert.Equal(t, 2, r.Count())

	ok, found := r.Get("ok_button")
	require.True(t, found)
	assert.Equal(t, 0.9, ok.Threshold)
	require.NotNil(t, ok.Region)
	assert.Equal(t, image.Rect(100, 200, 300, 400), *ok.Region.ToImageRectangle())

	// Threshold defaults when the YAML omits it.
	cl, found := r.Get("close")
	require.True(t, found)
	assert.Equal(t, 0.85, cl.Threshold)
	assert.Equal(t, 0.5, cl.Scale)
	assert.Nil(t, cl.Region)
}

func TestLoadFromFileRejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
templates:
  - path: some.png
`), 0644))

	r := NewRegistry(dir)
	err := r.LoadFromFile(filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadFromFileRejectsThresholdOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "ok.png"), 8, 8, 9)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
templates:
  - name: ok
    path: ok.png
    threshold: 1.5
`), 0644))

	r := NewRegistry(dir)
	err := r.LoadFromFile(filepath.Join(dir, "bad.yaml"))
	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Field, "threshold")
	assert.False(t, r.Has("ok"))
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 8, 8, 3)
	writePNG(t, filepath.Join(dir, "b.png"), 8, 8, 4)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
templates:
  - name: a
    path: a.png
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(`
templates:
  - name: b
    path: b.png
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	r := NewRegistry(dir)
	require.NoError(t, r.LoadFromDirectory(dir))
	assert.True(t, r.Has("a"))
	assert.True(t, r.Has("b"))
	assert.Equal(t, 2, r.Count())
}

func TestRegistryRegisterAndRemove(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register(cv.Template{Name: "x", Path: "x.png", Threshold: 0.8}))
	assert.True(t, r.Has("x"))
	assert.ElementsMatch(t, []string{"x"}, r.List())

	assert.True(t, r.Remove("x"))
	assert.False(t, r.Has("x"))
	assert.False(t, r.Remove("x"))

	assert.Error(t, r.Register(cv.Template{Path: "noname.png"}))
}

func TestMustGetPanicsOnMissing(t *testing.T) {
	r := NewRegistry(t.TempDir())
	assert.Panics(t, func() { r.MustGet("ghost") })
}

func TestPreparedLoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "icon.png"), 20, 20, 5)

	r := NewRegistry(dir)
	require.NoError(t, r.Register(cv.Template{
		Name:      "icon",
		Path:      filepath.Join(dir, "icon.png"),
		Threshold: 0.8,
	}))

	first, tmpl, err := r.Prepared("icon")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "icon", tmpl.Name)

	second, _, err := r.Prepared("icon")
	require.NoError(t, err)
	assert.Same(t, first, second, "second lookup must hit the cache")

	stats := r.CacheStats()
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestPreparedAppliesScale(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "big.png"), 40, 20, 6)

	r := NewRegistry(dir)
	require.NoError(t, r.Register(cv.Template{
		Name:      "half",
		Path:      filepath.Join(dir, "big.png"),
		Threshold: 0.8,
		Scale:     0.5,
	}))

	prep, _, err := r.Prepared("half")
	require.NoError(t, err)
	assert.Equal(t, 20, prep.Bounds().Dx())
	assert.Equal(t, 10, prep.Bounds().Dy())
}

func TestPreparedMissingImage(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Register(cv.Template{Name: "gone", Path: "/nonexistent/gone.png", Threshold: 0.8}))

	_, _, err := r.Prepared("gone")
	assert.Error(t, err)

	_, _, err = r.Prepared("never-registered")
	assert.Error(t, err)
}

func TestPreloadAll(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "eager.png"), 8, 8, 7)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "t.yaml"), []byte(`
templates:
  - name: eager
    path: eager.png
    preload: true
  - name: lazy
    path: eager.png
`), 0644))

	r := NewRegistry(dir)
	require.NoError(t, r.LoadFromFile(filepath.Join(dir, "t.yaml")))
	require.NoError(t, r.PreloadAll())

	stats := r.CacheStats()
	assert.Equal(t, int64(1), stats.Loads, "only the preload entry loads")
}

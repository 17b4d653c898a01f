package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/afk2auto/afkbot/internal/config"
	"github.com/afk2auto/afkbot/internal/cv"
)

// Registry manages a collection of templates loaded from YAML files.
// Construct one per bot instance and pass it where needed; there is
// deliberately no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]cv.Template
	basePath string
	cache    *ImageCache
}

// Definition is one template entry in a YAML asset file.
type Definition struct {
	Name      string     `yaml:"name"`
	Path      string     `yaml:"path"`
	Threshold float64    `yaml:"threshold"`
	Region    *RegionDef `yaml:"region,omitempty"`
	Scale     float64    `yaml:"scale,omitempty"`
	Preload   bool       `yaml:"preload,omitempty"`
}

// RegionDef restricts matching to a screen rectangle.
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// File is the top-level structure of a template YAML file.
type File struct {
	Templates []Definition `yaml:"templates"`
}

// NewRegistry creates a registry rooted at basePath, the directory
// holding both the YAML definitions and the referenced PNG images.
func NewRegistry(basePath string) *Registry {
	return &Registry{
		entries:  make(map[string]cv.Template),
		basePath: basePath,
		cache:    NewImageCache(),
	}
}

// LoadFromFile loads template definitions from a single YAML file.
func (r *Registry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read template file %s: %w", filePath, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse template file %s: %w", filePath, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, def := range f.Templates {
		if def.Name == "" {
			return fmt.Errorf("template %d in %s: name is required", i+1, filePath)
		}
		if def.Path == "" {
			return fmt.Errorf("template %q in %s: path is required", def.Name, filePath)
		}
		if def.Threshold < 0 || def.Threshold > 1 {
			return &config.ConfigurationError{
				Field:  fmt.Sprintf("template %q in %s: threshold", def.Name, filePath),
				Reason: "must be within [0, 1]",
			}
		}

		tmpl := cv.Template{
			Name:      def.Name,
			Path:      filepath.Join(r.basePath, def.Path),
			Threshold: def.Threshold,
			Scale:     def.Scale,
		}
		if tmpl.Threshold == 0 {
			tmpl.Threshold = 0.85
		}
		if def.Region != nil {
			tmpl.Region = &cv.Region{
				X1: def.Region.X1,
				Y1: def.Region.Y1,
				X2: def.Region.X2,
				Y2: def.Region.Y2,
			}
		}

		r.entries[def.Name] = tmpl
		r.cache.Register(tmpl, def.Preload)
	}

	return nil
}

// LoadFromDirectory loads every .yaml/.yml file directly under dirPath.
func (r *Registry) LoadFromDirectory(dirPath string) error {
	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("read template directory %s: %w", dirPath, err)
	}

	var firstErr error
	failed := 0
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.LoadFromFile(filepath.Join(dirPath, entry.Name())); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("%d template file(s) failed to load: %w", failed, firstErr)
	}
	return nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (cv.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.entries[name]
	return tmpl, ok
}

// MustGet returns the named template, panicking if it is missing. Use
// only during startup wiring where the name is known to exist.
func (r *Registry) MustGet(name string) cv.Template {
	tmpl, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("template %q not registered", name))
	}
	return tmpl
}

// Register adds a template programmatically.
func (r *Registry) Register(tmpl cv.Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tmpl.Name] = tmpl
	r.cache.Register(tmpl, false)
	return nil
}

// Has reports whether a template is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns all registered template names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Remove drops a template and any cached image for it.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	r.cache.Evict(name)
	return true
}

// Clear drops every template and empties the image cache.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]cv.Template)
	r.cache.Clear()
}

// Prepared returns the named template's preprocessed image, loading
// and scaling it on first use.
func (r *Registry) Prepared(name string) (*cv.Prepared, cv.Template, error) {
	tmpl, ok := r.Get(name)
	if !ok {
		return nil, cv.Template{}, fmt.Errorf("template %q not registered", name)
	}
	prep, err := r.cache.Get(name)
	if err != nil {
		return nil, cv.Template{}, err
	}
	return prep, tmpl, nil
}

// PreloadAll loads every template marked preload in the YAML.
func (r *Registry) PreloadAll() error {
	return r.cache.PreloadAll()
}

// CacheStats returns image cache counters.
func (r *Registry) CacheStats() CacheStats {
	return r.cache.Stats()
}

package scene

import (
	"fmt"
	"image"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleDefinition is one scene rule in a YAML asset file. Rules are
// evaluated in file order.
type RuleDefinition struct {
	Scene     string    `yaml:"scene"`
	Templates []string  `yaml:"templates,omitempty"`
	Texts     []string  `yaml:"texts,omitempty"`
	DismissAt *PointDef `yaml:"dismiss_at,omitempty"`
}

// PointDef is a tap coordinate in a YAML rule.
type PointDef struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// RuleFile is the top-level structure of a scene rule YAML file.
type RuleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// LoadRulesFromFile appends rules from a YAML file to the classifier,
// preserving file order as priority order.
func (c *Classifier) LoadRulesFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scene rules %s: %w", path, err)
	}

	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse scene rules %s: %w", path, err)
	}

	for i, def := range f.Rules {
		if def.Scene == "" {
			return fmt.Errorf("rule %d in %s: scene is required", i+1, path)
		}
		if len(def.Templates) == 0 && len(def.Texts) == 0 {
			return fmt.Errorf("rule %d (%s) in %s: needs at least one template or text", i+1, def.Scene, path)
		}
		rule := Rule{
			Scene:     State(def.Scene),
			Templates: def.Templates,
			Texts:     def.Texts,
		}
		if def.DismissAt != nil {
			pt := image.Point{X: def.DismissAt.X, Y: def.DismissAt.Y}
			rule.DismissAt = &pt
		}
		c.AddRule(rule)
	}

	return nil
}

package scene

import (
	"context"
	"sync"

	"github.com/afk2auto/afkbot/internal/cv"
	"github.com/afk2auto/afkbot/internal/device"
	"github.com/afk2auto/afkbot/internal/events"
	"github.com/afk2auto/afkbot/internal/logging"
	"github.com/afk2auto/afkbot/internal/ocr"
	"github.com/afk2auto/afkbot/pkg/templates"
)

// Classifier evaluates rules in registration order and reports the
// first one whose features all match. Rule order is therefore the
// priority order; popup rules should come first so a blocking modal
// wins over whatever screen sits behind it.
type Classifier struct {
	registry   *templates.Registry
	recognizer *ocr.Recognizer
	bus        events.Bus
	logger     *logging.Logger

	mu    sync.RWMutex
	rules []Rule
	last  State
}

// NewClassifier creates a classifier. recognizer and bus may be nil;
// without a recognizer, rules with text conditions simply never fire.
func NewClassifier(registry *templates.Registry, recognizer *ocr.Recognizer, bus events.Bus, logger *logging.Logger) *Classifier {
	return &Classifier{
		registry:   registry,
		recognizer: recognizer,
		bus:        bus,
		logger:     logger,
		last:       Unknown,
	}
}

// AddRule appends a rule at the lowest priority.
func (c *Classifier) AddRule(rule Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
}

// Rules returns a copy of the current rule list in priority order.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify determines the scene shown in the frame. A frame no rule
// matches yields Unknown with zero confidence; that is a normal
// outcome, not an error.
func (c *Classifier) Classify(ctx context.Context, frame *device.Frame) (Result, error) {
	prepared := cv.Prepare(frame.Pixels)

	for _, rule := range c.Rules() {
		result, matched, err := c.evaluate(ctx, frame, prepared, rule)
		if err != nil {
			return Result{}, err
		}
		if matched {
			c.noteTransition(result.State)
			return result, nil
		}
	}

	c.noteTransition(Unknown)
	return Result{State: Unknown}, nil
}

// evaluate checks one rule against the frame. Confidence is the lowest
// template confidence among the rule's features.
func (c *Classifier) evaluate(ctx context.Context, frame *device.Frame, prepared *cv.Prepared, rule Rule) (Result, bool, error) {
	confidence := 1.0

	for _, name := range rule.Templates {
		prep, tmpl, err := c.registry.Prepared(name)
		if err != nil {
			return Result{}, false, err
		}
		cfg := cv.DefaultMatchConfig()
		cfg.Threshold = tmpl.Threshold
		if tmpl.Region != nil {
			cfg.SearchRegion = tmpl.Region.ToImageRectangle()
		}
		match := cv.FindTemplate(prepared, prep, cfg)
		if !match.Found {
			return Result{}, false, nil
		}
		if match.Confidence < confidence {
			confidence = match.Confidence
		}
	}

	if len(rule.Texts) > 0 {
		if c.recognizer == nil {
			return Result{}, false, nil
		}
		for _, text := range rule.Texts {
			found, err := c.recognizer.HasText(ctx, frame.Pixels, text)
			if err != nil {
				return Result{}, false, err
			}
			if !found {
				return Result{}, false, nil
			}
		}
	}

	if len(rule.Templates) == 0 && len(rule.Texts) == 0 {
		return Result{}, false, nil
	}

	return Result{
		State:      rule.Scene,
		Confidence: confidence,
		DismissAt:  rule.DismissAt,
	}, true, nil
}

func (c *Classifier) noteTransition(state State) {
	c.mu.Lock()
	prev := c.last
	c.last = state
	c.mu.Unlock()

	if prev == state {
		return
	}
	if c.logger != nil {
		c.logger.Debugf("scene changed: %s -> %s", prev, state)
	}
	if c.bus != nil {
		c.bus.Publish(events.NewSceneChangedEvent(string(prev), string(state)))
	}
}

// Last returns the most recently classified state.
func (c *Classifier) Last() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

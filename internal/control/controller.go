// Package control drives the device toward goal scenes. Each cycle
// captures one frame, classifies it and issues at most one command,
// so every action is decided against fresh screen state.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/afk2auto/afkbot/internal/device"
	"github.com/afk2auto/afkbot/internal/logging"
	"github.com/afk2auto/afkbot/internal/scene"
)

// StepKind classifies the controller's decision for one cycle.
type StepKind int

const (
	// StepCommand means a device command should be issued this cycle.
	StepCommand StepKind = iota
	// StepGoalReached means the target scene is on screen.
	StepGoalReached
	// StepGoalFailed means the controller has given up on the goal.
	StepGoalFailed
)

// Step is one controller decision.
type Step struct {
	Kind    StepKind
	Command device.Command
	Reason  string
}

// Goal names a target scene and the command to issue from each scene
// on the way there. Scenes missing from the route get a wait, letting
// transitions settle without blind tapping.
type Goal struct {
	Name   string
	Target scene.State
	Route  map[scene.State]device.Command
}

// StuckError reports a goal abandoned because the scene stopped
// changing in response to commands.
type StuckError struct {
	Goal   string
	State  scene.State
	Cycles int
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("goal %s stuck on scene %s for %d cycles", e.Goal, e.State, e.Cycles)
}

// Classifier reports the scene shown in a frame. *scene.Classifier is
// the production implementation.
type Classifier interface {
	Classify(ctx context.Context, frame *device.Frame) (scene.Result, error)
}

// Controller owns the decide-act cycle. It assumes exclusive use of
// the device channel while Run is executing; the task manager enforces
// that by running one task at a time.
type Controller struct {
	channel    device.Channel
	classifier Classifier
	logger     *logging.Logger

	pollInterval   time.Duration
	loadingBackoff time.Duration
	stuckThreshold int
}

// NewController wires a controller. stuckThreshold is the number of
// consecutive cycles the scene may stay unchanged before the goal is
// abandoned.
func NewController(channel device.Channel, classifier Classifier, logger *logging.Logger, pollInterval, loadingBackoff time.Duration, stuckThreshold int) *Controller {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if loadingBackoff <= 0 {
		loadingBackoff = time.Second
	}
	if stuckThreshold <= 0 {
		stuckThreshold = 10
	}
	return &Controller{
		channel:        channel,
		classifier:     classifier,
		logger:         logger,
		pollInterval:   pollInterval,
		loadingBackoff: loadingBackoff,
		stuckThreshold: stuckThreshold,
	}
}

// Next decides the command for one cycle. unchanged is the count of
// consecutive cycles the scene has stayed the same.
func (c *Controller) Next(result scene.Result, goal Goal, unchanged int) Step {
	if result.State == goal.Target {
		return Step{Kind: StepGoalReached, Reason: "target scene reached"}
	}

	// Loading screens ignore input; back off instead of tapping. A
	// long load is the game working, not the goal stuck, so this is
	// decided before the stuck check.
	if result.State == scene.Loading {
		return Step{
			Kind:    StepCommand,
			Command: device.Wait(c.loadingBackoff),
			Reason:  "loading",
		}
	}

	if unchanged >= c.stuckThreshold {
		return Step{Kind: StepGoalFailed, Reason: "scene stopped responding"}
	}

	// A blocking popup is cleared before anything else, whatever the
	// route says about the scene behind it.
	if result.State == scene.PopupBlocking && result.DismissAt != nil {
		return Step{
			Kind:    StepCommand,
			Command: device.Tap(result.DismissAt.X, result.DismissAt.Y),
			Reason:  "dismiss popup",
		}
	}

	if cmd, ok := goal.Route[result.State]; ok {
		return Step{Kind: StepCommand, Command: cmd, Reason: "route"}
	}

	// Unrecognized or unrouted scene: observe another frame rather
	// than act blindly.
	return Step{
		Kind:    StepCommand,
		Command: device.Wait(c.pollInterval),
		Reason:  "observe",
	}
}

// Run executes decide-act cycles until the goal is reached, the goal
// fails, gate returns an error, or ctx is cancelled. gate is called at
// the top of every cycle; tasks use it to block while paused and to
// report cancellation. A nil gate is allowed.
func (c *Controller) Run(ctx context.Context, goal Goal, gate func(context.Context) error) error {
	var lastState scene.State
	unchanged := 0
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if gate != nil {
			if err := gate(ctx); err != nil {
				return err
			}
		}

		frame, err := c.channel.Capture(ctx)
		if err != nil {
			return fmt.Errorf("goal %s: %w", goal.Name, err)
		}

		result, err := c.classifier.Classify(ctx, frame)
		if err != nil {
			return fmt.Errorf("goal %s: %w", goal.Name, err)
		}

		switch {
		case first || result.State != lastState:
			unchanged = 0
			first = false
		case result.State != scene.Loading:
			// Repeated Loading never accumulates toward stuck; the
			// backoff below is the intended response.
			unchanged++
		}
		lastState = result.State

		step := c.Next(result, goal, unchanged)
		switch step.Kind {
		case StepGoalReached:
			if c.logger != nil {
				c.logger.Infof("goal %s reached", goal.Name)
			}
			return nil
		case StepGoalFailed:
			return &StuckError{Goal: goal.Name, State: result.State, Cycles: unchanged}
		case StepCommand:
			if c.logger != nil {
				c.logger.Debugf("goal %s: scene=%s %s -> %s", goal.Name, result.State, step.Reason, step.Command.Kind)
			}
			if err := c.channel.Send(ctx, step.Command); err != nil {
				return fmt.Errorf("goal %s: %w", goal.Name, err)
			}
		}
	}
}

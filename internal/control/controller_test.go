package control

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afk2auto/afkbot/internal/device"
	"github.com/afk2auto/afkbot/internal/scene"
)

// fakeChannel records every command and hands back blank frames.
type fakeChannel struct {
	commands []device.Command
}

func (f *fakeChannel) Capture(ctx context.Context) (*device.Frame, error) {
	return &device.Frame{
		Pixels:     image.NewRGBA(image.Rect(0, 0, 4, 4)),
		CapturedAt: time.Now(),
	}, nil
}

func (f *fakeChannel) Send(ctx context.Context, cmd device.Command) error {
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeChannel) taps() int {
	n := 0
	for _, cmd := range f.commands {
		if cmd.Kind == device.CommandTap {
			n++
		}
	}
	return n
}

// scriptedClassifier replays a fixed sequence of results, repeating
// the last one once exhausted.
type scriptedClassifier struct {
	results []scene.Result
	calls   int
}

func (s *scriptedClassifier) Classify(ctx context.Context, frame *device.Frame) (scene.Result, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx], nil
}

func newTestController(ch device.Channel, cl Classifier, stuck int) *Controller {
	return NewController(ch, cl, nil, time.Millisecond, time.Millisecond, stuck)
}

func TestNextGoalReached(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 10)
	goal := Goal{Name: "menu", Target: scene.MainMenu}

	step := c.Next(scene.Result{State: scene.MainMenu}, goal, 0)
	assert.Equal(t, StepGoalReached, step.Kind)
}

func TestNextPopupDismissedBeforeRoute(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 10)
	goal := Goal{
		Name:   "menu",
		Target: scene.MainMenu,
		Route: map[scene.State]device.Command{
			scene.PopupBlocking: device.Tap(1, 1),
		},
	}
	pt := image.Pt(540, 960)

	step := c.Next(scene.Result{State: scene.PopupBlocking, DismissAt: &pt}, goal, 0)
	require.Equal(t, StepCommand, step.Kind)
	assert.Equal(t, device.CommandTap, step.Command.Kind)
	assert.Equal(t, 540, step.Command.X)
	assert.Equal(t, 960, step.Command.Y)
}

func TestNextLoadingWaits(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 10)
	goal := Goal{Name: "menu", Target: scene.MainMenu}

	step := c.Next(scene.Result{State: scene.Loading}, goal, 0)
	require.Equal(t, StepCommand, step.Kind)
	assert.Equal(t, device.CommandWait, step.Command.Kind)
}

func TestNextFollowsRoute(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 10)
	goal := Goal{
		Name:   "menu",
		Target: scene.MainMenu,
		Route: map[scene.State]device.Command{
			scene.InDialogue: device.Tap(540, 1650),
		},
	}

	step := c.Next(scene.Result{State: scene.InDialogue}, goal, 0)
	require.Equal(t, StepCommand, step.Kind)
	assert.Equal(t, device.CommandTap, step.Command.Kind)
}

func TestNextUnroutedSceneObserves(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 10)
	goal := Goal{Name: "menu", Target: scene.MainMenu}

	step := c.Next(scene.Result{State: scene.Unknown}, goal, 0)
	require.Equal(t, StepCommand, step.Kind)
	assert.Equal(t, device.CommandWait, step.Command.Kind)
}

func TestNextStuckFails(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 5)
	goal := Goal{Name: "menu", Target: scene.MainMenu}

	step := c.Next(scene.Result{State: scene.InBattle}, goal, 5)
	assert.Equal(t, StepGoalFailed, step.Kind)
}

func TestRunWaitsThroughLoadingWithoutTapping(t *testing.T) {
	ch := &fakeChannel{}
	cl := &scriptedClassifier{results: []scene.Result{
		{State: scene.Loading},
		{State: scene.Loading},
		{State: scene.MainMenu},
	}}
	c := newTestController(ch, cl, 10)

	err := c.Run(context.Background(), Goal{Name: "menu", Target: scene.MainMenu}, nil)
	require.NoError(t, err)

	assert.Len(t, ch.commands, 2)
	assert.Equal(t, 0, ch.taps())
	for _, cmd := range ch.commands {
		assert.Equal(t, device.CommandWait, cmd.Kind)
	}
}

func TestNextLongLoadingNeverStuck(t *testing.T) {
	c := newTestController(&fakeChannel{}, nil, 5)
	goal := Goal{Name: "menu", Target: scene.MainMenu}

	step := c.Next(scene.Result{State: scene.Loading}, goal, 20)
	require.Equal(t, StepCommand, step.Kind)
	assert.Equal(t, device.CommandWait, step.Command.Kind)
}

func TestRunSurvivesLoadingLongerThanStuckThreshold(t *testing.T) {
	ch := &fakeChannel{}
	results := make([]scene.Result, 0, 13)
	for i := 0; i < 12; i++ {
		results = append(results, scene.Result{State: scene.Loading})
	}
	results = append(results, scene.Result{State: scene.MainMenu})
	cl := &scriptedClassifier{results: results}
	c := newTestController(ch, cl, 10)

	err := c.Run(context.Background(), Goal{Name: "menu", Target: scene.MainMenu}, nil)
	require.NoError(t, err)

	assert.Len(t, ch.commands, 12)
	assert.Equal(t, 0, ch.taps())
}

func TestRunStuckReturnsStuckError(t *testing.T) {
	ch := &fakeChannel{}
	cl := &scriptedClassifier{results: []scene.Result{{State: scene.InBattle}}}
	c := newTestController(ch, cl, 3)

	err := c.Run(context.Background(), Goal{Name: "menu", Target: scene.MainMenu}, nil)
	var stuck *StuckError
	require.ErrorAs(t, err, &stuck)
	assert.Equal(t, scene.InBattle, stuck.State)
	assert.Equal(t, 3, stuck.Cycles)
}

func TestRunSceneChangeResetsStuckCounter(t *testing.T) {
	ch := &fakeChannel{}
	cl := &scriptedClassifier{results: []scene.Result{
		{State: scene.InBattle},
		{State: scene.InBattle},
		{State: scene.InDialogue},
		{State: scene.InBattle},
		{State: scene.MainMenu},
	}}
	c := newTestController(ch, cl, 3)

	err := c.Run(context.Background(), Goal{Name: "menu", Target: scene.MainMenu}, nil)
	assert.NoError(t, err)
}

func TestRunGateError(t *testing.T) {
	ch := &fakeChannel{}
	cl := &scriptedClassifier{results: []scene.Result{{State: scene.Loading}}}
	c := newTestController(ch, cl, 10)

	wantErr := errors.New("paused too long")
	err := c.Run(context.Background(), Goal{Name: "menu", Target: scene.MainMenu}, func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Empty(t, ch.commands)
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestController(&fakeChannel{}, &scriptedClassifier{results: []scene.Result{{State: scene.Loading}}}, 10)
	err := c.Run(ctx, Goal{Name: "menu", Target: scene.MainMenu}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

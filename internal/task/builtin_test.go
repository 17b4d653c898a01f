package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afk2auto/afkbot/internal/scene"
)

type stubLauncher struct {
	running bool
	started []string
}

func (s *stubLauncher) StartApp(ctx context.Context, pkg string) error {
	s.started = append(s.started, pkg)
	s.running = true
	return nil
}

func (s *stubLauncher) IsAppRunning(ctx context.Context, pkg string) (bool, error) {
	return s.running, nil
}

func TestWakeTaskLaunchesStoppedApp(t *testing.T) {
	launcher := &stubLauncher{running: false}
	wake := NewWakeTask(launcher, "com.farlightgames.igame.gp", DefaultRetryPolicy())

	assert.Equal(t, KindWake, wake.Kind())
	assert.Equal(t, PriorityHigh, wake.Priority())

	require.NotNil(t, wake.prologue)
	require.NoError(t, wake.prologue(context.Background()))
	assert.Equal(t, []string{"com.farlightgames.igame.gp"}, launcher.started)
}

func TestWakeTaskSkipsLaunchWhenRunning(t *testing.T) {
	launcher := &stubLauncher{running: true}
	wake := NewWakeTask(launcher, "com.farlightgames.igame.gp", DefaultRetryPolicy())

	require.NoError(t, wake.prologue(context.Background()))
	assert.Empty(t, launcher.started)
}

func TestDailyTaskEndsAtMainMenu(t *testing.T) {
	daily := NewDailyTask(DefaultRetryPolicy())
	info := daily.Snapshot()

	assert.Equal(t, KindDaily, daily.Kind())
	require.Equal(t, 3, info.GoalCount)
	assert.Equal(t, scene.MainMenu, daily.goals[len(daily.goals)-1].Target)
}

func TestCampaignTaskGoalCountScalesWithBattles(t *testing.T) {
	for _, battles := range []int{1, 3} {
		c := NewCampaignTask(battles, DefaultRetryPolicy())
		// open + (start, finish) per battle + return.
		assert.Equal(t, battles*2+2, c.Snapshot().GoalCount)
	}

	// Battle count is clamped to at least one.
	c := NewCampaignTask(0, DefaultRetryPolicy())
	assert.Equal(t, 4, c.Snapshot().GoalCount)
}

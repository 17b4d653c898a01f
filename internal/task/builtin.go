package task

import (
	"context"
	"fmt"
	"time"

	"github.com/afk2auto/afkbot/internal/control"
	"github.com/afk2auto/afkbot/internal/device"
	"github.com/afk2auto/afkbot/internal/scene"
)

// Built-in task kinds.
const (
	KindWake     = "wake"
	KindDaily    = "daily"
	KindCampaign = "campaign"
)

// Tap targets for a 1080x1920 portrait layout. Scene rules carry
// their own coordinates for popups; these cover the fixed UI.
var (
	tapCampaignButton = device.Tap(540, 1700)
	tapBattleButton   = device.Tap(540, 1780)
	tapAFKRewards     = device.Tap(540, 1500)
	tapCollectButton  = device.Tap(540, 1300)
	tapContinue       = device.Tap(540, 1650)
	tapBackButton     = device.Tap(60, 80)
)

// Launcher starts and stops the game process. *device.ADB satisfies
// it; tests substitute a stub.
type Launcher interface {
	StartApp(ctx context.Context, pkg string) error
	IsAppRunning(ctx context.Context, pkg string) (bool, error)
}

// NewWakeTask builds the task that brings the game to the main menu
// from any state, launching the process first if it is not running.
func NewWakeTask(launcher Launcher, pkg string, policy RetryPolicy) *Task {
	goals := []control.Goal{
		{
			Name:   "reach-main-menu",
			Target: scene.MainMenu,
			Route: map[scene.State]device.Command{
				scene.InDialogue: tapContinue,
				scene.InBattle:   tapBackButton,
			},
		},
	}
	t := New("wake", KindWake, PriorityHigh, goals, policy)
	return t.WithPrologue(func(ctx context.Context) error {
		running, err := launcher.IsAppRunning(ctx, pkg)
		if err != nil {
			return err
		}
		if running {
			return nil
		}
		return launcher.StartApp(ctx, pkg)
	})
}

// NewDailyTask builds the daily routine: collect AFK rewards, then
// return to the main menu.
func NewDailyTask(policy RetryPolicy) *Task {
	goals := []control.Goal{
		{
			Name:   "open-afk-rewards",
			Target: scene.Custom("afk_rewards"),
			Route: map[scene.State]device.Command{
				scene.MainMenu: tapAFKRewards,
			},
		},
		{
			Name:   "collect-afk-rewards",
			Target: scene.Custom("rewards_claimed"),
			Route: map[scene.State]device.Command{
				scene.Custom("afk_rewards"): tapCollectButton,
			},
		},
		{
			Name:   "return-to-menu",
			Target: scene.MainMenu,
			Route: map[scene.State]device.Command{
				scene.Custom("rewards_claimed"): tapContinue,
				scene.Custom("afk_rewards"):     tapBackButton,
			},
		},
	}
	return New("daily", KindDaily, PriorityNormal, goals, policy)
}

// NewCampaignTask builds a task that fights the given number of
// campaign battles. Each battle is its own goal pair so progress is
// kept across retries and pauses.
func NewCampaignTask(battles int, policy RetryPolicy) *Task {
	if battles < 1 {
		battles = 1
	}

	goals := make([]control.Goal, 0, battles*2+1)
	goals = append(goals, control.Goal{
		Name:   "open-campaign",
		Target: scene.Custom("campaign"),
		Route: map[scene.State]device.Command{
			scene.MainMenu: tapCampaignButton,
		},
	})

	for i := 1; i <= battles; i++ {
		goals = append(goals,
			control.Goal{
				Name:   fmt.Sprintf("start-battle-%d", i),
				Target: scene.InBattle,
				Route: map[scene.State]device.Command{
					scene.Custom("campaign"):       tapBattleButton,
					scene.Custom("battle_results"): tapContinue,
				},
			},
			control.Goal{
				Name:   fmt.Sprintf("finish-battle-%d", i),
				Target: scene.Custom("battle_results"),
				Route: map[scene.State]device.Command{
					// Combat runs itself; poll until the results screen.
					scene.InBattle: device.Wait(5 * time.Second),
				},
			},
		)
	}

	goals = append(goals, control.Goal{
		Name:   "return-to-menu",
		Target: scene.MainMenu,
		Route: map[scene.State]device.Command{
			scene.Custom("battle_results"): tapContinue,
			scene.Custom("campaign"):       tapBackButton,
		},
	})

	return New(fmt.Sprintf("campaign-%d", battles), KindCampaign, PriorityNormal, goals, policy)
}

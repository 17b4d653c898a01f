package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/afk2auto/afkbot/internal/history"
	"github.com/afk2auto/afkbot/internal/task"
	"github.com/afk2auto/afkbot/pkg/templates"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Capture one frame and report the classified scene",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		rt, err := newRuntime(ctx, task.ModeSerial)
		if err != nil {
			printErr(err)
			return err
		}
		defer rt.close()

		frame, err := rt.adb.Capture(ctx)
		if err != nil {
			printErr(err)
			return err
		}

		result, err := rt.classifier.Classify(ctx, frame)
		if err != nil {
			printErr(err)
			return err
		}

		fmt.Printf("scene: %s (confidence %.2f)\n", result.State, result.Confidence)
		fmt.Printf("templates registered: %d\n", rt.registry.Count())
		return nil
	},
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Wake the game and collect daily AFK rewards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		rt, err := newRuntime(ctx, task.ModeSerial)
		if err != nil {
			printErr(err)
			return err
		}
		defer rt.close()

		policy := rt.retryPolicy()
		return runTasks(ctx, rt,
			task.NewWakeTask(rt.adb, rt.settings.Device.Package, policy),
			task.NewDailyTask(policy),
		)
	},
}

var campaignBattles int

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Wake the game and fight campaign battles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		rt, err := newRuntime(ctx, task.ModeSerial)
		if err != nil {
			printErr(err)
			return err
		}
		defer rt.close()

		policy := rt.retryPolicy()
		return runTasks(ctx, rt,
			task.NewWakeTask(rt.adb, rt.settings.Device.Package, policy),
			task.NewCampaignTask(campaignBattles, policy),
		)
	},
}

var (
	schedCampaignEvery time.Duration
	schedDailyHour     int
	schedDailyMinute   int
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run continuously, firing daily and campaign tasks on schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		rt, err := newRuntime(ctx, task.ModeFair)
		if err != nil {
			printErr(err)
			return err
		}
		defer rt.close()

		policy := rt.retryPolicy()
		pkg := rt.settings.Device.Package

		rt.scheduler.ScheduleDaily("daily-rewards", schedDailyHour, schedDailyMinute, func() *task.Task {
			return task.NewDailyTask(policy)
		})
		if schedCampaignEvery > 0 {
			rt.scheduler.ScheduleEvery("campaign", schedCampaignEvery, func() *task.Task {
				return task.NewCampaignTask(campaignBattles, policy)
			})
		}

		// Bring the game up before the first scheduled task fires.
		rt.manager.Submit(task.NewWakeTask(rt.adb, pkg, policy))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return rt.manager.RunLoop(gctx) })
		g.Go(func() error { return rt.scheduler.RunLoop(gctx) })
		g.Go(func() error {
			watcher, err := templates.NewWatcher(rt.registry, rt.settings.TemplateDir, rt.logger.Child("templates"))
			if err != nil {
				rt.logger.Warnf("template watching disabled: %v", err)
				<-gctx.Done()
				return gctx.Err()
			}
			return watcher.Run(gctx)
		})

		err = g.Wait()
		if err == context.Canceled {
			return nil
		}
		if err != nil {
			printErr(err)
		}
		return err
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent task executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			printErr(err)
			return err
		}
		if settings.HistoryPath == "" {
			return fmt.Errorf("history is disabled (no history path configured)")
		}

		store, err := history.Open(settings.HistoryPath)
		if err != nil {
			printErr(err)
			return err
		}
		defer store.Close()

		executions, err := store.Recent(historyLimit)
		if err != nil {
			printErr(err)
			return err
		}

		for _, e := range executions {
			finished := "-"
			if e.FinishedAt != nil {
				finished = e.FinishedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-20s %-10s %-10s attempts=%d started=%s finished=%s",
				e.Name, e.Kind, e.Status, e.Attempts, e.StartedAt.Format(time.RFC3339), finished)
			if e.Error != "" {
				fmt.Printf(" error=%q", e.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	campaignCmd.Flags().IntVar(&campaignBattles, "battles", 1, "number of campaign battles to fight")
	schedulerCmd.Flags().IntVar(&campaignBattles, "battles", 1, "battles per scheduled campaign run")
	schedulerCmd.Flags().DurationVar(&schedCampaignEvery, "campaign-every", 4*time.Hour, "interval between campaign runs (0 disables)")
	schedulerCmd.Flags().IntVar(&schedDailyHour, "daily-hour", 9, "hour of day for the daily task")
	schedulerCmd.Flags().IntVar(&schedDailyMinute, "daily-minute", 0, "minute for the daily task")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of executions to show")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runTasks drives the manager until every submitted task reaches a
// terminal status, then reports the first failure if any.
func runTasks(ctx context.Context, rt *runtime, tasks ...*task.Task) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		rt.manager.RunLoop(runCtx)
	}()

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, rt.manager.Submit(t))
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-loopDone
			return ctx.Err()
		case <-ticker.C:
		}

		var firstErr error
		allDone := true
		for _, id := range ids {
			info, ok := rt.manager.Get(id)
			if !ok {
				continue
			}
			if !info.Status.Terminal() {
				allDone = false
				break
			}
			if info.Status == task.StatusFailed && firstErr == nil {
				firstErr = fmt.Errorf("task %s failed: %w", info.Name, info.Err)
			}
		}
		if !allDone {
			continue
		}

		cancel()
		<-loopDone
		if firstErr != nil {
			printErr(firstErr)
		}
		return firstErr
	}
}

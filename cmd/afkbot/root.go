package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/afk2auto/afkbot/internal/config"
	"github.com/afk2auto/afkbot/internal/control"
	"github.com/afk2auto/afkbot/internal/device"
	"github.com/afk2auto/afkbot/internal/events"
	"github.com/afk2auto/afkbot/internal/history"
	"github.com/afk2auto/afkbot/internal/logging"
	"github.com/afk2auto/afkbot/internal/ocr"
	"github.com/afk2auto/afkbot/internal/scene"
	"github.com/afk2auto/afkbot/internal/task"
	"github.com/afk2auto/afkbot/pkg/templates"
)

var (
	flagConfig string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:           "afkbot",
	Short:         "Recognition-driven automation for AFK Journey",
	Long:          "afkbot watches the game screen over ADB, classifies what it sees and drives tasks like daily collection and campaign battles to completion.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to INI config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(campaignCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(historyCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// runtime holds everything a command needs, wired once per invocation.
type runtime struct {
	settings   *config.Settings
	logger     *logging.Logger
	bus        events.Bus
	adb        *device.ADB
	registry   *templates.Registry
	classifier *scene.Classifier
	controller *control.Controller
	manager    *task.Manager
	scheduler  *task.Scheduler
	store      *history.Store
}

// newRuntime loads configuration and connects the full pipeline:
// device channel, template registry, classifier, controller, manager.
func newRuntime(ctx context.Context, mode task.Mode) (*runtime, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	logger := logging.New("afkbot")
	if settings.Debug {
		logger.SetMinLevel(logging.LevelDebug)
	}

	bus := events.NewBus(64)

	adb := device.NewADB(settings.Device.ADBPath, settings.Device.Serial, logger.Child("adb"))
	if err := adb.Connect(ctx); err != nil {
		bus.Stop()
		return nil, err
	}

	// A missing template directory only degrades classification; a
	// malformed definition or image is fatal at startup.
	registry := templates.NewRegistry(settings.TemplateDir)
	if _, statErr := os.Stat(settings.TemplateDir); os.IsNotExist(statErr) {
		logger.Warnf("template directory %s missing, classification will report unknown", settings.TemplateDir)
	} else {
		if err := registry.LoadFromDirectory(settings.TemplateDir); err != nil {
			bus.Stop()
			return nil, err
		}
		if err := registry.PreloadAll(); err != nil {
			bus.Stop()
			return nil, err
		}
	}

	var recognizer *ocr.Recognizer
	engine, err := ocr.NewTesseract(settings.Recognition.OCRLanguage)
	if err != nil {
		// Text rules never fire without OCR; template rules still work.
		logger.Warnf("ocr disabled: %v", err)
	} else {
		recognizer = ocr.NewRecognizer(engine, settings.Recognition.ConfidenceFloor, logger.Child("ocr"))
	}

	classifier := scene.NewClassifier(registry, recognizer, bus, logger.Child("scene"))
	rulesPath := filepath.Join(settings.TemplateDir, "scenes.yaml")
	if _, statErr := os.Stat(rulesPath); statErr == nil {
		if err := classifier.LoadRulesFromFile(rulesPath); err != nil {
			bus.Stop()
			return nil, err
		}
	} else {
		logger.Warnf("no scene rules at %s, classification will report unknown", rulesPath)
	}

	controller := control.NewController(
		adb,
		classifier,
		logger.Child("control"),
		settings.Recognition.PollInterval,
		settings.Tasks.LoadingBackoff,
		settings.Tasks.StuckThreshold,
	)

	var store *history.Store
	if settings.HistoryPath != "" {
		store, err = history.Open(settings.HistoryPath)
		if err != nil {
			bus.Stop()
			return nil, err
		}
	}

	manager := task.NewManager(controller, bus, store, logger.Child("manager"), mode)
	scheduler := task.NewScheduler(manager, bus, logger.Child("scheduler"), settings.Scheduler.TickInterval)

	return &runtime{
		settings:   settings,
		logger:     logger,
		bus:        bus,
		adb:        adb,
		registry:   registry,
		classifier: classifier,
		controller: controller,
		manager:    manager,
		scheduler:  scheduler,
		store:      store,
	}, nil
}

func (rt *runtime) close() {
	if rt.store != nil {
		rt.store.Close()
	}
	rt.adb.Disconnect()
	rt.bus.Stop()
}

func (rt *runtime) retryPolicy() task.RetryPolicy {
	return task.RetryPolicy{
		MaxAttempts:   rt.settings.Tasks.MaxAttempts,
		InitialDelay:  rt.settings.Tasks.InitialDelay,
		BackoffFactor: rt.settings.Tasks.BackoffFactor,
		MaxDelay:      rt.settings.Tasks.MaxDelay,
	}
}

func loadSettings() (*config.Settings, error) {
	var settings *config.Settings
	if flagConfig != "" {
		loaded, err := config.LoadFromINI(flagConfig)
		if err != nil {
			return nil, err
		}
		settings = loaded
	} else {
		settings = config.NewDefaultSettings()
	}
	if flagDebug {
		settings.Debug = true
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func printErr(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

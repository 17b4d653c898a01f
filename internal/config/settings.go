package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// ConfigurationError reports a malformed setting at load time.
// It is fatal at startup only; settings are never reloaded mid-run.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// DeviceSettings configures the ADB channel
type DeviceSettings struct {
	ADBPath string
	Serial  string
	Package string // game package name, used by the wake task
}

// RecognitionSettings configures matching and OCR
type RecognitionSettings struct {
	MatchThreshold  float64       // default template threshold (0-1)
	OCRLanguage     string        // tesseract language code
	ConfidenceFloor float64       // OCR fragments below this are dropped
	PollInterval    time.Duration // wait-for-template polling interval
}

// TaskSettings configures retry and stuck-state behavior
type TaskSettings struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	BackoffFactor  float64
	MaxDelay       time.Duration
	StuckThreshold int           // consecutive unchanged classifications before GoalFailed
	LoadingBackoff time.Duration // wait issued while the loading scene persists
}

// SchedulerSettings configures the trigger tick loop
type SchedulerSettings struct {
	TickInterval time.Duration
}

// Settings is the single configuration object constructed once at startup
// and passed by reference into the scheduler, tasks and classifier.
// The core never parses files outside this package.
type Settings struct {
	Device      DeviceSettings
	Recognition RecognitionSettings
	Tasks       TaskSettings
	Scheduler   SchedulerSettings
	TemplateDir string
	HistoryPath string // empty disables execution history
	Debug       bool
}

// NewDefaultSettings returns settings usable without a config file
func NewDefaultSettings() *Settings {
	return &Settings{
		Device: DeviceSettings{
			ADBPath: "adb",
			Serial:  "127.0.0.1:5555",
			Package: "com.farlightgames.igame.gp",
		},
		Recognition: RecognitionSettings{
			MatchThreshold:  0.85,
			OCRLanguage:     "eng",
			ConfidenceFloor: 0.60,
			PollInterval:    500 * time.Millisecond,
		},
		Tasks: TaskSettings{
			MaxAttempts:    3,
			InitialDelay:   time.Second,
			BackoffFactor:  2.0,
			MaxDelay:       30 * time.Second,
			StuckThreshold: 10,
			LoadingBackoff: time.Second,
		},
		Scheduler: SchedulerSettings{
			TickInterval: time.Second,
		},
		TemplateDir: "templates",
	}
}

// LoadFromINI loads settings from an INI file, falling back to defaults
// for missing keys
func LoadFromINI(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings file: %w", err)
	}

	s := NewDefaultSettings()

	device := cfg.Section("device")
	s.Device.ADBPath = device.Key("adb_path").MustString(s.Device.ADBPath)
	s.Device.Serial = device.Key("serial").MustString(s.Device.Serial)
	s.Device.Package = device.Key("package").MustString(s.Device.Package)

	recog := cfg.Section("recognition")
	s.Recognition.MatchThreshold = recog.Key("match_threshold").MustFloat64(s.Recognition.MatchThreshold)
	s.Recognition.OCRLanguage = recog.Key("ocr_language").MustString(s.Recognition.OCRLanguage)
	s.Recognition.ConfidenceFloor = recog.Key("confidence_floor").MustFloat64(s.Recognition.ConfidenceFloor)
	s.Recognition.PollInterval = recog.Key("poll_interval").MustDuration(s.Recognition.PollInterval)

	tasks := cfg.Section("tasks")
	s.Tasks.MaxAttempts = tasks.Key("max_attempts").MustInt(s.Tasks.MaxAttempts)
	s.Tasks.InitialDelay = tasks.Key("initial_delay").MustDuration(s.Tasks.InitialDelay)
	s.Tasks.BackoffFactor = tasks.Key("backoff_factor").MustFloat64(s.Tasks.BackoffFactor)
	s.Tasks.MaxDelay = tasks.Key("max_delay").MustDuration(s.Tasks.MaxDelay)
	s.Tasks.StuckThreshold = tasks.Key("stuck_threshold").MustInt(s.Tasks.StuckThreshold)
	s.Tasks.LoadingBackoff = tasks.Key("loading_backoff").MustDuration(s.Tasks.LoadingBackoff)

	sched := cfg.Section("scheduler")
	s.Scheduler.TickInterval = sched.Key("tick_interval").MustDuration(s.Scheduler.TickInterval)

	paths := cfg.Section("paths")
	s.TemplateDir = paths.Key("template_dir").MustString(s.TemplateDir)
	s.HistoryPath = paths.Key("history_db").MustString(s.HistoryPath)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks value ranges that would otherwise surface as
// confusing runtime behavior
func (s *Settings) Validate() error {
	if s.Recognition.MatchThreshold < 0 || s.Recognition.MatchThreshold > 1 {
		return &ConfigurationError{Field: "recognition.match_threshold", Reason: "must be within [0, 1]"}
	}
	if s.Recognition.ConfidenceFloor < 0 || s.Recognition.ConfidenceFloor > 1 {
		return &ConfigurationError{Field: "recognition.confidence_floor", Reason: "must be within [0, 1]"}
	}
	if s.Recognition.PollInterval <= 0 {
		return &ConfigurationError{Field: "recognition.poll_interval", Reason: "must be positive"}
	}
	if s.Tasks.MaxAttempts < 1 {
		return &ConfigurationError{Field: "tasks.max_attempts", Reason: "must be at least 1"}
	}
	if s.Tasks.BackoffFactor < 1 {
		return &ConfigurationError{Field: "tasks.backoff_factor", Reason: "must be at least 1"}
	}
	if s.Tasks.StuckThreshold < 2 {
		return &ConfigurationError{Field: "tasks.stuck_threshold", Reason: "must be at least 2"}
	}
	if s.Scheduler.TickInterval <= 0 {
		return &ConfigurationError{Field: "scheduler.tick_interval", Reason: "must be positive"}
	}
	return nil
}

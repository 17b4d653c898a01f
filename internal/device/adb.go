package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/afk2auto/afkbot/internal/logging"
)

// ADB implements Channel over the adb binary. Commands go through
// `adb -s <serial> shell input ...`; captures use `exec-out screencap -p`
// so no file round-trips through the device filesystem.
type ADB struct {
	path   string
	serial string
	logger *logging.Logger

	mu        sync.Mutex
	connected bool
}

// NewADB creates an ADB channel for the given binary path and device serial
func NewADB(path, serial string, logger *logging.Logger) *ADB {
	if logger == nil {
		logger = logging.New("adb")
	}
	return &ADB{
		path:   path,
		serial: serial,
		logger: logger,
	}
}

// Connect establishes the adb connection for network-attached devices.
// USB devices that are already visible pass the verification too.
func (a *ADB) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	out, err := exec.CommandContext(ctx, a.path, "connect", a.serial).CombinedOutput()
	if err != nil {
		return &DeviceError{Op: "connect", Err: fmt.Errorf("%w, output: %s", err, out)}
	}
	text := string(out)
	if !strings.Contains(text, "connected") && !strings.Contains(text, "already connected") {
		return &DeviceError{Op: "connect", Err: fmt.Errorf("unexpected connect output: %s", text)}
	}

	a.connected = true
	a.logger.Infof("connected to %s", a.serial)
	return nil
}

// Disconnect drops the adb connection
func (a *ADB) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}
	exec.Command(a.path, "disconnect", a.serial).Run()
	a.connected = false
	return nil
}

// IsConnected reports whether Connect succeeded
func (a *ADB) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Capture grabs the current screen as an RGBA frame
func (a *ADB) Capture(ctx context.Context) (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmd := exec.CommandContext(ctx, a.path, "-s", a.serial, "exec-out", "screencap", "-p")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &DeviceError{Op: "capture", Err: fmt.Errorf("%w, stderr: %s", err, stderr.String())}
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, &DeviceError{Op: "capture", Err: fmt.Errorf("decode screencap: %w", err)}
	}

	return &Frame{Pixels: toRGBA(img), CapturedAt: time.Now()}, nil
}

// Send dispatches one input command to the device. Wait commands issue
// no input; they pause until the duration elapses or ctx is cancelled.
func (a *ADB) Send(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandTap:
		return a.shell(ctx, fmt.Sprintf("input tap %d %d", cmd.X, cmd.Y))
	case CommandSwipe:
		return a.shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d",
			cmd.X, cmd.Y, cmd.X2, cmd.Y2, cmd.Duration.Milliseconds()))
	case CommandKey:
		return a.shell(ctx, fmt.Sprintf("input keyevent %s", cmd.Key))
	case CommandWait:
		select {
		case <-time.After(cmd.Duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return &DeviceError{Op: "send", Err: fmt.Errorf("unknown command kind %d", cmd.Kind)}
	}
}

// StartApp launches the game application
func (a *ADB) StartApp(ctx context.Context, packageName string) error {
	return a.shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", packageName))
}

// ForceStop stops the game application
func (a *ADB) ForceStop(ctx context.Context, packageName string) error {
	return a.shell(ctx, fmt.Sprintf("am force-stop %s", packageName))
}

// IsAppRunning checks whether the game process exists
func (a *ADB) IsAppRunning(ctx context.Context, packageName string) (bool, error) {
	out, err := a.shellOutput(ctx, fmt.Sprintf("pidof %s", packageName))
	if err != nil {
		// pidof exits non-zero when the process is absent
		return false, nil
	}
	return strings.TrimSpace(out) != "", nil
}

// ScreenSize returns the device resolution
func (a *ADB) ScreenSize(ctx context.Context) (width, height int, err error) {
	out, err := a.shellOutput(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}

	var w, h int
	if _, err := fmt.Sscanf(out, "Physical size: %dx%d", &w, &h); err != nil {
		if _, err := fmt.Sscanf(out, "Override size: %dx%d", &w, &h); err != nil {
			return 0, 0, &DeviceError{Op: "wm size", Err: fmt.Errorf("unparseable output: %s", out)}
		}
	}
	return w, h, nil
}

func (a *ADB) shell(ctx context.Context, command string) error {
	_, err := a.shellOutput(ctx, command)
	return err
}

func (a *ADB) shellOutput(ctx context.Context, command string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debugf("shell: %s", command)
	cmd := exec.CommandContext(ctx, a.path, "-s", a.serial, "shell", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", &DeviceError{Op: "shell", Err: fmt.Errorf("%w, output: %s", err, out)}
	}
	return strings.TrimSpace(string(out)), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

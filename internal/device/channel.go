package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// Frame is one captured screen image with its capture timestamp.
// Consumers treat the pixel buffer as read-only.
type Frame struct {
	Pixels     *image.RGBA
	CapturedAt time.Time
}

// Bounds returns the pixel bounds of the frame
func (f *Frame) Bounds() image.Rectangle {
	return f.Pixels.Bounds()
}

// CommandKind distinguishes device input commands
type CommandKind int

const (
	// CommandTap taps a single point
	CommandTap CommandKind = iota
	// CommandSwipe drags between two points over a duration
	CommandSwipe
	// CommandWait issues no input and lets the UI settle
	CommandWait
	// CommandKey sends a key event such as KEYCODE_BACK
	CommandKey
)

func (k CommandKind) String() string {
	switch k {
	case CommandTap:
		return "tap"
	case CommandSwipe:
		return "swipe"
	case CommandWait:
		return "wait"
	case CommandKey:
		return "key"
	default:
		return "unknown"
	}
}

// Command is a single device input instruction
type Command struct {
	Kind     CommandKind
	X, Y     int
	X2, Y2   int
	Duration time.Duration
	Key      string
}

// Tap builds a tap command at the given point
func Tap(x, y int) Command {
	return Command{Kind: CommandTap, X: x, Y: y}
}

// Swipe builds a swipe command between two points
func Swipe(x1, y1, x2, y2 int, duration time.Duration) Command {
	return Command{Kind: CommandSwipe, X: x1, Y: y1, X2: x2, Y2: y2, Duration: duration}
}

// Wait builds a no-input command that pauses for the given duration
func Wait(d time.Duration) Command {
	return Command{Kind: CommandWait, Duration: d}
}

// Key builds a key event command
func Key(code string) Command {
	return Command{Kind: CommandKey, Key: code}
}

// Channel is the frame-source capability the core consumes: it supplies
// timestamped screen captures and accepts input commands. The core is
// agnostic to whether the device is USB or network attached.
type Channel interface {
	Capture(ctx context.Context) (*Frame, error)
	Send(ctx context.Context, cmd Command) error
}

// DeviceError wraps a command or capture channel failure. Tasks retry
// these per their policy before surfacing as Failed.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is (or wraps) a DeviceError
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

package vmbcapture

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/feature"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/warmup"
)

var (
	// ErrNoCamera is returned when no camera is connected.
	ErrNoCamera = errors.New("vmb-capture: no camera found")
	// ErrClosed is returned by operations on a closed System or Camera.
	ErrClosed = errors.New("vmb-capture: closed")
	// ErrAlreadyStarted is returned by Start while capturing.
	ErrAlreadyStarted = errors.New("vmb-capture: capture already started")
	// ErrNotStarted is returned by Warmup when not capturing.
	ErrNotStarted = errors.New("vmb-capture: capture not started")
	// ErrUnstable is returned by Warmup together with the stats when the
	// frame cadence is not stable.
	ErrUnstable = errors.New("vmb-capture: frame rate unstable")

	ErrTooFewFrames    = warmup.ErrTooFewFrames
	ErrSessionActive   = session.ErrSessionActive
	ErrNotWritable     = feature.ErrNotWritable
	ErrInvalidArgument = vmb.ErrInvalidArgument
)

// ErrUserCallback marks errors raised by frame handlers. It never reaches
// the caller of Start; it shows up in CaptureStats.CallbackErrors.
const ErrUserCallback = vmb.ErrUserCallback

// IsTolerable reports whether err is a driver status that teardown paths
// may ignore: already done, not found, runtime not started.
func IsTolerable(err error) bool { return vmb.Tolerable(err) }

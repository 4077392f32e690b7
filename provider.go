package vmbcapture

import (
	"context"
	"time"
)

// FrameHandler is called on the driver thread for every completed frame.
//
// The slice passed in is the driver buffer: it is valid only until the
// handler returns and must be copied to be kept. Returned errors and panics
// are contained and counted; they never stop the capture.
type FrameHandler func(f Frame) error

// CaptureProvider defines the contract for camera frame acquisition
//
// Implementations must guarantee:
//   - Start() returns once the camera is streaming
//   - the channel returned by Start() closes only after Stop()
//   - Stop() is idempotent (safe to call multiple times)
//   - Stats() is thread-safe (can be called from any goroutine)
//   - SetExposure() and SetFrameRate() do not require restart
type CaptureProvider interface {
	// Start applies the camera profile, announces the frame buffers and
	// starts streaming. Frames are copied out of the driver buffer and sent
	// with a non-blocking send: when the channel is full the frame is
	// dropped and counted rather than stalling the driver.
	//
	// Cancelling ctx stops the capture like Stop.
	//
	// Example:
	//   cam, _ := sys.OpenFirstCamera(vmbcapture.CameraConfig{FrameRate: 30})
	//   frames, err := cam.Start(ctx)
	//   if err != nil {
	//       log.Fatal(err)
	//   }
	//   for f := range frames {
	//       process(f)
	//   }
	Start(ctx context.Context) (<-chan Frame, error)

	// StartWithHandler streams without the channel: fn receives every
	// completion on the driver thread with the driver buffer in Data.
	StartWithHandler(ctx context.Context, fn FrameHandler) error

	// Stop ends acquisition, waits for the callback in flight, flushes and
	// revokes every buffer, then frees them and closes the channel.
	//
	// Returns nil when not capturing.
	Stop() error

	// Stats returns current capture statistics.
	Stats() CaptureStats

	// Warmup measures frame cadence for duration using device timestamps.
	// Frames keep flowing to the consumer meanwhile.
	//
	// Returns ErrUnstable (with the stats) when the cadence is not stable.
	Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error)

	// SetExposure writes the exposure time in microseconds, clamped to the
	// device range, and returns the value the device accepted.
	SetExposure(us float64) (float64, error)

	// SetFrameRate writes the acquisition frame rate, clamped to the device
	// range, and returns the value the device accepted.
	SetFrameRate(fps float64) (float64, error)
}

var _ CaptureProvider = (*Camera)(nil)

package vmbcapture

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/feature"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/warmup"
)

// Frame is a completed frame copied out of the driver buffer
type Frame struct {
	// Seq is the host sequence number, 1 for the first frame after Start
	Seq uint64
	// ID is the device frame id
	ID uint64
	// Timestamp is the device timestamp in nanoseconds
	Timestamp uint64
	// ReceivedAt is when the completion reached the host
	ReceivedAt time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// OffsetX and OffsetY locate the region of interest on the sensor
	OffsetX int
	OffsetY int
	// PixelFormat of Data
	PixelFormat PixelFormat
	// Data is a private copy of the payload, safe to keep
	Data []byte
	// CameraID identifies the source camera
	CameraID string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// CaptureStats contains current capture statistics
type CaptureStats struct {
	// CameraID identifies the camera
	CameraID string
	// SessionID is the id of the current (or last) capture session
	SessionID string
	// State of the capture session: idle, announced, streaming, draining
	State string
	// FrameCount is the number of completions received from the driver
	FrameCount uint64
	// FramesDelivered is the number of frames handed to the consumer
	FramesDelivered uint64
	// FramesDropped is the number of frames dropped (channel full)
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// Incomplete counts completions whose status was not Complete
	Incomplete uint64
	// CallbackErrors counts handler errors and panics
	CallbackErrors uint64
	// RequeueFailures counts buffers that fell out of rotation
	RequeueFailures uint64
	// LastFrameID is the device id of the last completion
	LastFrameID uint64
	// Buffers is the pool size, Outstanding how many the driver holds
	Buffers     int
	Outstanding int
	// FPSReal is the measured host-side rate since Start
	FPSReal float64
	// LatencyMS is the time since the last frame in milliseconds
	LatencyMS int64
	// BytesRead is the total payload bytes copied
	BytesRead uint64
	// ExposureTime and FrameRate are the values the device accepted
	ExposureTime float64
	FrameRate    float64
	// IsCapturing reports an active session
	IsCapturing bool
}

// CameraConfig configures a capture on one camera
type CameraConfig struct {
	// Frames is the number of announced buffers (3-64, default 8)
	Frames int
	// ExposureTime in microseconds, 0 keeps the device value
	ExposureTime float64
	// FrameRate in frames per second, 0 keeps the device value
	FrameRate float64
	// Trigger selects an external trigger line; FreeRun by default
	Trigger TriggerLine
	// OutputBuffer is the capacity of the channel returned by Start (default 10)
	OutputBuffer int
}

// SystemConfig locates the native runtime
type SystemConfig struct {
	// LibraryPath of libVmbC.so / VmbC.dll; empty uses the loader search path
	LibraryPath string
	// TransportPaths are directories searched for transport layers
	TransportPaths []string
}

const (
	defaultFrames       = 8
	defaultOutputBuffer = 10
)

// Re-exported native types
type (
	PixelFormat = vmb.PixelFormat
	CameraInfo  = vmb.CameraInfo
	VersionInfo = vmb.VersionInfo
	TriggerLine = feature.TriggerLine
	WarmupStats = warmup.Stats
)

// Pixel formats
const (
	PixelFormatMono8    = vmb.PixelFormatMono8
	PixelFormatMono10   = vmb.PixelFormatMono10
	PixelFormatMono12   = vmb.PixelFormatMono12
	PixelFormatMono12p  = vmb.PixelFormatMono12p
	PixelFormatMono16   = vmb.PixelFormatMono16
	PixelFormatBayerGR8 = vmb.PixelFormatBayerGR8
	PixelFormatBayerRG8 = vmb.PixelFormatBayerRG8
	PixelFormatBayerGB8 = vmb.PixelFormatBayerGB8
	PixelFormatBayerBG8 = vmb.PixelFormatBayerBG8
	PixelFormatRgb8     = vmb.PixelFormatRgb8
	PixelFormatBgr8     = vmb.PixelFormatBgr8
	PixelFormatRgba8    = vmb.PixelFormatRgba8
	PixelFormatBgra8    = vmb.PixelFormatBgra8
	PixelFormatRgb16    = vmb.PixelFormatRgb16
	PixelFormatYuv422   = vmb.PixelFormatYuv422
)

// Trigger selections
const (
	FreeRun = feature.FreeRun
	Line0   = feature.Line0
	Line1   = feature.Line1
)

// Package feature configures a camera through named GenICam features.
//
// Access wraps one open camera handle and offers the writes a capture
// session needs before acquisition (throughput limit, acquisition mode,
// trigger, exposure, frame rate) plus device utilities: timestamp latch,
// the user-data file and temperature change notifications.
//
// Float writes are clamped: the value is checked against the feature range
// reported by the device, written, and read back, so callers learn the
// value the device actually applied.
package feature

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// Feature names (SFNC and vendor).
const (
	ThroughputLimitMode     = "DeviceLinkThroughputLimitMode"
	AcquisitionMode         = "AcquisitionMode"
	AcquisitionFrameRate    = "AcquisitionFrameRate"
	AcquisitionFrameRateOn  = "AcquisitionFrameRateEnable"
	AcquisitionStart        = "AcquisitionStart"
	AcquisitionStop         = "AcquisitionStop"
	ExposureTime            = "ExposureTime"
	ExposureAuto            = "ExposureAuto"
	TriggerSource           = "TriggerSource"
	TriggerMode             = "TriggerMode"
	TriggerActivation       = "TriggerActivation"
	TriggerDelay            = "TriggerDelay"
	MaxDriverBuffersCount   = "MaxDriverBuffersCount"
	DeviceUserID            = "DeviceUserID"
	DeviceTemperature       = "DeviceTemperature"
	TimestampLatch          = "TimestampLatch"
	TimestampLatchValue     = "TimestampLatchValue"
	TimestampReset          = "TimestampReset"
	FileSelector            = "FileSelector"
	FileOperationSelector   = "FileOperationSelector"
	FileOpenMode            = "FileOpenMode"
	FileOperationExecute    = "FileOperationExecute"
	FileAccessBuffer        = "FileAccessBuffer"
	FileOperationResult     = "FileOperationResult"
	minFrameRate            = 1e-6
	userDataFile            = "UserData"
	acquisitionContinuous   = "Continuous"
	triggerActivationRising = "RisingEdge"
)

// ErrNotWritable is returned by clamped writes when the feature is not
// currently readable and writable.
var ErrNotWritable = errors.New("feature: not readable and writable")

// Accessor is the subset of vmb.Runtime used here.
type Accessor interface {
	RunCommand(h vmb.Handle, name string) error
	SetBool(h vmb.Handle, name string, v bool) error
	Bool(h vmb.Handle, name string) (bool, error)
	SetInt(h vmb.Handle, name string, v int64) error
	Int(h vmb.Handle, name string) (int64, error)
	SetFloat(h vmb.Handle, name string, v float64) error
	Float(h vmb.Handle, name string) (float64, error)
	FloatRange(h vmb.Handle, name string) (float64, float64, error)
	SetEnum(h vmb.Handle, name, v string) error
	Enum(h vmb.Handle, name string) (string, error)
	SetString(h vmb.Handle, name, v string) error
	String(h vmb.Handle, name string) (string, error)
	SetRaw(h vmb.Handle, name string, data []byte) error
	Raw(h vmb.Handle, name string, buf []byte) (int, error)
	FeatureAccess(h vmb.Handle, name string) (bool, bool, error)
	RegisterInvalidation(h vmb.Handle, name string, cb vmb.InvalidationCallback) error
	UnregisterInvalidation(h vmb.Handle, name string) error
}

var _ Accessor = (*vmb.Runtime)(nil)

// Access configures one open camera.
type Access struct {
	rt Accessor
	h  vmb.Handle

	watchErrors atomic.Uint64
}

// New binds rt to the camera handle h.
func New(rt Accessor, h vmb.Handle) *Access {
	return &Access{rt: rt, h: h}
}

// Handle returns the camera handle.
func (a *Access) Handle() vmb.Handle { return a.h }

// SetFloatClamped writes v to a float feature, clamped to its range, and
// returns the value read back from the device.
//
// Steps:
//  1. Access query: the feature must be readable and writable.
//  2. Range query, clamp v into [min, max].
//  3. Write, then read back.
func (a *Access) SetFloatClamped(name string, v float64) (float64, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("feature: %s: NaN: %w", name, vmb.ErrInvalidArgument)
	}

	readable, writable, err := a.rt.FeatureAccess(a.h, name)
	if err != nil {
		return 0, fmt.Errorf("feature: %s access: %w", name, err)
	}
	if !readable || !writable {
		return 0, fmt.Errorf("feature: %s (readable=%v writable=%v): %w", name, readable, writable, ErrNotWritable)
	}

	lo, hi, err := a.rt.FloatRange(a.h, name)
	if err != nil {
		return 0, fmt.Errorf("feature: %s range: %w", name, err)
	}
	clamped := min(max(v, lo), hi)
	if clamped != v {
		slog.Debug("feature: value clamped", "feature", name, "requested", v, "clamped", clamped, "min", lo, "max", hi)
	}

	if err := a.rt.SetFloat(a.h, name, clamped); err != nil {
		return 0, fmt.Errorf("feature: set %s=%g: %w", name, clamped, err)
	}
	applied, err := a.rt.Float(a.h, name)
	if err != nil {
		return 0, fmt.Errorf("feature: read back %s: %w", name, err)
	}
	return applied, nil
}

// SetExposureTime sets the exposure in microseconds and returns the
// applied value.
func (a *Access) SetExposureTime(us float64) (float64, error) {
	if us < 0 {
		return 0, fmt.Errorf("feature: exposure %gus: %w", us, vmb.ErrInvalidArgument)
	}
	return a.SetFloatClamped(ExposureTime, us)
}

// SetFrameRate sets the acquisition frame rate and returns the applied
// value. The rate only takes effect with AcquisitionFrameRateEnable on.
func (a *Access) SetFrameRate(fps float64) (float64, error) {
	if fps < minFrameRate {
		return 0, fmt.Errorf("feature: frame rate %g: %w", fps, vmb.ErrInvalidArgument)
	}
	return a.SetFloatClamped(AcquisitionFrameRate, fps)
}

// EnableFrameRate switches AcquisitionFrameRateEnable.
func (a *Access) EnableFrameRate(on bool) error {
	return a.setBool(AcquisitionFrameRateOn, on)
}

// SetThroughputLimit switches the device link throughput limit.
func (a *Access) SetThroughputLimit(on bool) error {
	return a.setEnum(ThroughputLimitMode, onOff(on))
}

// SetContinuous puts the camera in continuous acquisition mode.
func (a *Access) SetContinuous() error {
	return a.setEnum(AcquisitionMode, acquisitionContinuous)
}

// SetExposureAuto switches automatic exposure.
func (a *Access) SetExposureAuto(on bool) error {
	return a.setEnum(ExposureAuto, onOff(on))
}

// SetMaxDriverBuffers bounds the number of buffers the transport layer
// keeps in flight.
func (a *Access) SetMaxDriverBuffers(n int64) error {
	if n <= 0 {
		return fmt.Errorf("feature: max driver buffers %d: %w", n, vmb.ErrInvalidArgument)
	}
	if err := a.rt.SetInt(a.h, MaxDriverBuffersCount, n); err != nil {
		return fmt.Errorf("feature: set %s: %w", MaxDriverBuffersCount, err)
	}
	return nil
}

// DeviceUserID returns the user-assigned device name.
func (a *Access) DeviceUserID() (string, error) {
	id, err := a.rt.String(a.h, DeviceUserID)
	if err != nil {
		return "", fmt.Errorf("feature: get %s: %w", DeviceUserID, err)
	}
	return id, nil
}

// SetDeviceUserID assigns the device name.
func (a *Access) SetDeviceUserID(id string) error {
	if err := a.rt.SetString(a.h, DeviceUserID, id); err != nil {
		return fmt.Errorf("feature: set %s: %w", DeviceUserID, err)
	}
	return nil
}

// StartAcquisition runs the AcquisitionStart command.
func (a *Access) StartAcquisition() error { return a.run(AcquisitionStart) }

// StopAcquisition runs the AcquisitionStop command.
func (a *Access) StopAcquisition() error { return a.run(AcquisitionStop) }

// LatchTimestamp latches the device clock and returns it in ticks.
func (a *Access) LatchTimestamp() (int64, error) {
	if err := a.run(TimestampLatch); err != nil {
		return 0, err
	}
	v, err := a.rt.Int(a.h, TimestampLatchValue)
	if err != nil {
		return 0, fmt.Errorf("feature: get %s: %w", TimestampLatchValue, err)
	}
	return v, nil
}

// ResetTimestamp resets the device clock to zero.
func (a *Access) ResetTimestamp() error { return a.run(TimestampReset) }

func (a *Access) run(name string) error {
	if err := a.rt.RunCommand(a.h, name); err != nil {
		return fmt.Errorf("feature: run %s: %w", name, err)
	}
	return nil
}

func (a *Access) setEnum(name, v string) error {
	if err := a.rt.SetEnum(a.h, name, v); err != nil {
		return fmt.Errorf("feature: set %s=%s: %w", name, v, err)
	}
	return nil
}

func (a *Access) setBool(name string, v bool) error {
	if err := a.rt.SetBool(a.h, name, v); err != nil {
		return fmt.Errorf("feature: set %s=%v: %w", name, v, err)
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}

package feature

import (
	"fmt"
	"log/slog"
)

// TriggerLine selects the hardware input that starts each exposure.
type TriggerLine string

const (
	// FreeRun: no external trigger, frames follow AcquisitionFrameRate.
	FreeRun TriggerLine = ""
	Line0   TriggerLine = "Line0"
	Line1   TriggerLine = "Line1"
)

// Valid reports whether l is a supported trigger selection.
func (l TriggerLine) Valid() bool {
	switch l {
	case FreeRun, Line0, Line1:
		return true
	}
	return false
}

// Profile is the pre-acquisition configuration of a capture session.
type Profile struct {
	// ExposureTime in microseconds. 0 keeps the device value.
	ExposureTime float64
	// FrameRate in frames per second. 0 keeps the device value.
	FrameRate float64
	// Trigger selects external triggering. Exposure and frame rate are not
	// touched when triggered.
	Trigger TriggerLine
}

// Applied holds the values read back from the device after Apply.
type Applied struct {
	ExposureTime float64
	FrameRate    float64
}

// EnableTrigger arms external triggering on line: rising edge, no delay.
func (a *Access) EnableTrigger(line TriggerLine) error {
	if line == FreeRun || !line.Valid() {
		return fmt.Errorf("feature: trigger line %q: %w", line, errInvalidLine)
	}
	if err := a.setEnum(TriggerSource, string(line)); err != nil {
		return err
	}
	if err := a.setEnum(TriggerMode, "On"); err != nil {
		return err
	}
	if err := a.setEnum(TriggerActivation, triggerActivationRising); err != nil {
		return err
	}
	if err := a.rt.SetFloat(a.h, TriggerDelay, 0); err != nil {
		return fmt.Errorf("feature: set %s: %w", TriggerDelay, err)
	}
	slog.Info("feature: external trigger armed", "handle", a.h.String(), "line", string(line))
	return nil
}

// DisableTrigger returns the camera to free-running acquisition.
func (a *Access) DisableTrigger() error {
	return a.setEnum(TriggerMode, "Off")
}

// Apply writes the profile in the order the device expects:
//
//  1. Throughput limit off
//  2. AcquisitionMode = Continuous
//  3. External trigger, or AcquisitionFrameRateEnable = true followed by
//     the clamped exposure and frame-rate writes
//
// The first failure is returned; earlier writes are not undone.
func (a *Access) Apply(p Profile) (Applied, error) {
	var applied Applied

	if !p.Trigger.Valid() {
		return applied, fmt.Errorf("feature: trigger line %q: %w", p.Trigger, errInvalidLine)
	}
	if p.ExposureTime < 0 || p.FrameRate < 0 {
		return applied, fmt.Errorf("feature: negative exposure or frame rate: %w", errInvalidProfile)
	}

	if err := a.SetThroughputLimit(false); err != nil {
		return applied, err
	}
	if err := a.SetContinuous(); err != nil {
		return applied, err
	}

	if p.Trigger != FreeRun {
		return applied, a.EnableTrigger(p.Trigger)
	}

	if err := a.EnableFrameRate(true); err != nil {
		return applied, err
	}
	if p.ExposureTime > 0 {
		v, err := a.SetExposureTime(p.ExposureTime)
		if err != nil {
			return applied, fmt.Errorf("feature: unable to set exposure time: %w", err)
		}
		applied.ExposureTime = v
		warnIfAdjusted(ExposureTime, p.ExposureTime, v)
	}
	if p.FrameRate > 0 {
		v, err := a.SetFrameRate(p.FrameRate)
		if err != nil {
			return applied, fmt.Errorf("feature: unable to set frame rate: %w", err)
		}
		applied.FrameRate = v
		warnIfAdjusted(AcquisitionFrameRate, p.FrameRate, v)
	}
	return applied, nil
}

func warnIfAdjusted(name string, requested, applied float64) {
	if requested != applied {
		slog.Warn("feature: device adjusted value",
			"feature", name,
			"requested", requested,
			"applied", applied,
		)
	}
}

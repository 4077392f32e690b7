// Package warmup measures how steadily a camera delivers frames.
//
// Measurements use the device timestamps carried by each completed frame,
// so host scheduling noise does not show up as camera jitter.
package warmup

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean. 30 FPS is stable below 4.5 FPS stddev.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected interval. 30 FPS (33ms) is stable below 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes the frame cadence over a measurement window.
type Stats struct {
	FramesReceived int
	Dropped        uint64        // gaps in the frame id sequence
	Duration       time.Duration // device time between first and last frame
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	IsStable       bool
	JitterMean     float64 // seconds
	JitterStdDev   float64 // seconds
	JitterMax      float64 // seconds
}

// Sample is the part of a completed frame warmup looks at.
type Sample struct {
	ID        uint64
	Timestamp uint64 // device time, nanoseconds
}

// Analyze computes cadence statistics from samples in arrival order.
//
// Steps:
//  1. Mean FPS from the device time span
//  2. Instantaneous FPS per interval, its min, max and stddev
//  3. Jitter: absolute deviation of each interval from the expected one
//  4. Stability: stddev < 15% of mean AND mean jitter < 20% of interval
func Analyze(samples []Sample) *Stats {
	st := &Stats{FramesReceived: len(samples)}
	if len(samples) < 2 {
		return st
	}

	for i := 1; i < len(samples); i++ {
		if gap := samples[i].ID - samples[i-1].ID; samples[i].ID > samples[i-1].ID && gap > 1 {
			st.Dropped += gap - 1
		}
	}

	first, last := samples[0].Timestamp, samples[len(samples)-1].Timestamp
	if last <= first {
		return st
	}
	st.Duration = time.Duration(last - first)
	st.FPSMean = float64(len(samples)-1) / st.Duration.Seconds()

	intervals := make([]float64, 0, len(samples)-1)
	instantaneous := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp <= samples[i-1].Timestamp {
			continue
		}
		dt := time.Duration(samples[i].Timestamp - samples[i-1].Timestamp).Seconds()
		intervals = append(intervals, dt)
		instantaneous = append(instantaneous, 1/dt)
	}
	if len(instantaneous) == 0 {
		return st
	}

	st.FPSMin = floats.Min(instantaneous)
	st.FPSMax = floats.Max(instantaneous)
	if len(instantaneous) > 1 {
		_, st.FPSStdDev = stat.MeanStdDev(instantaneous, nil)
	}

	expected := 1 / st.FPSMean
	jitters := make([]float64, len(intervals))
	for i, dt := range intervals {
		jitters[i] = math.Abs(dt - expected)
	}
	st.JitterMax = floats.Max(jitters)
	if len(jitters) > 1 {
		st.JitterMean, st.JitterStdDev = stat.MeanStdDev(jitters, nil)
	} else {
		st.JitterMean = jitters[0]
	}

	st.IsStable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// SuggestedRate returns the rate a consumer should process at: maxRate when
// the camera keeps up, 90% of the measured rate otherwise.
func SuggestedRate(st *Stats, maxRate float64) float64 {
	if st == nil || st.FPSMean <= 0 || st.FPSMean >= maxRate {
		return maxRate
	}
	return st.FPSMean * 0.9
}

package warmup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTooFewFrames is returned when fewer than two frames arrived.
var ErrTooFewFrames = errors.New("warmup: not enough frames to measure")

// Run consumes samples for duration and analyzes them.
//
// It returns early with an error if the channel closes before two frames
// arrived or ctx is cancelled. Frames received after the window are left in
// the channel.
func Run(ctx context.Context, samples <-chan Sample, duration time.Duration) (*Stats, error) {
	slog.Info("warmup: measuring frame cadence", "duration", duration)

	window, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	collected := make([]Sample, 0, 128)
	closed := false
loop:
	for {
		select {
		case <-window.Done():
			break loop
		case s, ok := <-samples:
			if !ok {
				closed = true
				break loop
			}
			collected = append(collected, s)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("warmup: cancelled: %w", err)
	}
	if len(collected) < 2 {
		if closed {
			return nil, fmt.Errorf("warmup: stream closed after %d frames: %w", len(collected), ErrTooFewFrames)
		}
		return nil, fmt.Errorf("warmup: %d frames in %s: %w", len(collected), duration, ErrTooFewFrames)
	}

	st := Analyze(collected)
	slog.Info("warmup: complete",
		"frames", st.FramesReceived,
		"dropped", st.Dropped,
		"fps_mean", fmt.Sprintf("%.2f", st.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", st.FPSStdDev),
		"jitter_mean_ms", fmt.Sprintf("%.2f", st.JitterMean*1000),
		"stable", st.IsStable,
	)
	if !st.IsStable {
		slog.Warn("warmup: frame cadence is not stable",
			"fps_min", st.FPSMin,
			"fps_max", st.FPSMax,
			"jitter_max_ms", st.JitterMax*1000,
		)
	}
	return st, nil
}

package warmup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steady(n int, interval time.Duration) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{ID: uint64(i), Timestamp: uint64(i) * uint64(interval)}
	}
	return out
}

func TestAnalyze_Properties(t *testing.T) {
	t.Run("Property_1_SteadyStreamIsStable", func(t *testing.T) {
		st := Analyze(steady(90, time.Second/30))

		assert.InDelta(t, 30, st.FPSMean, 1e-6)
		assert.InDelta(t, 30, st.FPSMin, 1e-6)
		assert.InDelta(t, 30, st.FPSMax, 1e-6)
		assert.InDelta(t, 0, st.FPSStdDev, 1e-6)
		assert.InDelta(t, 0, st.JitterMean, 1e-9)
		assert.True(t, st.IsStable)
		assert.Zero(t, st.Dropped)
		assert.Equal(t, 89*(time.Second/30), st.Duration)
	})

	t.Run("Property_2_MeanBetweenMinAndMax", func(t *testing.T) {
		samples := steady(30, 10*time.Millisecond)
		for i := range samples {
			if i%3 == 0 {
				samples[i].Timestamp += uint64(4 * time.Millisecond)
			}
		}
		st := Analyze(samples)
		assert.LessOrEqual(t, st.FPSMin, st.FPSMean)
		assert.GreaterOrEqual(t, st.FPSMax, st.FPSMean)
		assert.GreaterOrEqual(t, st.JitterMax, st.JitterMean)
	})

	t.Run("Property_3_IrregularStreamIsUnstable", func(t *testing.T) {
		var ts uint64
		samples := make([]Sample, 40)
		for i := range samples {
			samples[i] = Sample{ID: uint64(i), Timestamp: ts}
			if i%2 == 0 {
				ts += uint64(5 * time.Millisecond)
			} else {
				ts += uint64(60 * time.Millisecond)
			}
		}
		assert.False(t, Analyze(samples).IsStable)
	})

	t.Run("Property_4_DropsFromIDGaps", func(t *testing.T) {
		samples := steady(10, time.Second/30)
		samples = append(samples[:3], samples[6:]...)
		assert.EqualValues(t, 3, Analyze(samples).Dropped)
	})

	t.Run("EdgeCases", func(t *testing.T) {
		assert.Equal(t, &Stats{}, Analyze(nil))
		assert.Equal(t, &Stats{FramesReceived: 1}, Analyze([]Sample{{ID: 1, Timestamp: 5}}))

		same := Analyze([]Sample{{ID: 1, Timestamp: 5}, {ID: 2, Timestamp: 5}})
		assert.Zero(t, same.FPSMean)
		assert.False(t, same.IsStable)
	})
}

func TestSuggestedRate(t *testing.T) {
	assert.Equal(t, 5.0, SuggestedRate(nil, 5))
	assert.Equal(t, 5.0, SuggestedRate(&Stats{FPSMean: 30}, 5))
	assert.InDelta(t, 3.6, SuggestedRate(&Stats{FPSMean: 4}, 5), 1e-9)
}

func TestRun(t *testing.T) {
	t.Run("CollectsUntilWindowEnds", func(t *testing.T) {
		ch := make(chan Sample, 64)
		for _, s := range steady(20, time.Second/50) {
			ch <- s
		}
		st, err := Run(context.Background(), ch, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 20, st.FramesReceived)
		assert.InDelta(t, 50, st.FPSMean, 1e-6)
	})

	t.Run("ClosedEarly", func(t *testing.T) {
		ch := make(chan Sample, 1)
		ch <- Sample{ID: 1}
		close(ch)
		_, err := Run(context.Background(), ch, time.Second)
		assert.True(t, errors.Is(err, ErrTooFewFrames))
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, make(chan Sample), time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

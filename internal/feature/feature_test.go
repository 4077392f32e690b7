package feature

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmbfake"
)

func newAccess(t *testing.T, overrides map[string]vmbfake.Feature) (*Access, *vmbfake.Service) {
	t.Helper()
	fake := vmbfake.New(vmbfake.Options{Features: overrides})
	rt := vmb.NewRuntime(fake)
	require.NoError(t, rt.Startup(""))
	t.Cleanup(rt.Shutdown)

	h, err := rt.OpenCamera(vmbfake.DefaultCamera().Info.ID, vmb.AccessModeFull)
	require.NoError(t, err)
	return New(rt, h), fake
}

func floatFeature(v, lo, hi float64) vmbfake.Feature {
	return vmbfake.Feature{Type: vmb.FeatureDataFloat, Value: v, Min: lo, Max: hi}
}

func TestSetFloatClamped(t *testing.T) {
	tests := []struct {
		name      string
		requested float64
		want      float64
	}{
		{"above range", 5000.8, 2000},
		{"below range", 1, 10},
		{"inside range", 750.5, 750.5},
		{"at max", 2000, 2000},
		{"at min", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, fake := newAccess(t, map[string]vmbfake.Feature{
				ExposureTime: floatFeature(100, 10, 2000),
			})

			got, err := a.SetFloatClamped(ExposureTime, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			v, _ := fake.Value(a.Handle(), ExposureTime)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestSetFloatClamped_ReadBack(t *testing.T) {
	f := floatFeature(30, 1, 100)
	f.Quantum = 0.5
	a, _ := newAccess(t, map[string]vmbfake.Feature{AcquisitionFrameRate: f})

	got, err := a.SetFrameRate(29.9)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got, "applied value comes from the device")
}

func TestSetFloatClamped_Errors(t *testing.T) {
	t.Run("NotWritable", func(t *testing.T) {
		f := floatFeature(100, 10, 2000)
		f.NotWritable = true
		a, fake := newAccess(t, map[string]vmbfake.Feature{ExposureTime: f})
		fake.ResetCalls()

		_, err := a.SetExposureTime(500)
		assert.ErrorIs(t, err, ErrNotWritable)
		assert.Equal(t, []string{"FeatureAccessQuery(ExposureTime)"}, fake.Calls())
	})

	t.Run("RangeQueryFails", func(t *testing.T) {
		a, fake := newAccess(t, nil)
		fake.Inject("FeatureFloatRangeQuery(ExposureTime)", vmb.StatusNotAvailable, 0)

		_, err := a.SetExposureTime(500)
		assert.ErrorIs(t, err, vmb.StatusNotAvailable)
	})

	t.Run("FrameRateBelowEpsilon", func(t *testing.T) {
		a, fake := newAccess(t, nil)
		fake.ResetCalls()

		for _, fps := range []float64{0, -1, 1e-9} {
			_, err := a.SetFrameRate(fps)
			assert.ErrorIs(t, err, vmb.ErrInvalidArgument)
		}
		assert.Empty(t, fake.Calls())
	})
}

func TestApply(t *testing.T) {
	t.Run("FreeRunOrder", func(t *testing.T) {
		a, fake := newAccess(t, map[string]vmbfake.Feature{
			ExposureTime:         floatFeature(100, 10, 2000),
			AcquisitionFrameRate: floatFeature(30, 1, 60),
		})
		fake.ResetCalls()

		applied, err := a.Apply(Profile{ExposureTime: 5000.8, FrameRate: 25})
		require.NoError(t, err)
		assert.Equal(t, Applied{ExposureTime: 2000, FrameRate: 25}, applied)

		assert.Equal(t, []string{
			"FeatureEnumSet(DeviceLinkThroughputLimitMode)",
			"FeatureEnumSet(AcquisitionMode)",
			"FeatureBoolSet(AcquisitionFrameRateEnable)",
			"FeatureAccessQuery(ExposureTime)",
			"FeatureFloatRangeQuery(ExposureTime)",
			"FeatureFloatSet(ExposureTime)",
			"FeatureFloatGet(ExposureTime)",
			"FeatureAccessQuery(AcquisitionFrameRate)",
			"FeatureFloatRangeQuery(AcquisitionFrameRate)",
			"FeatureFloatSet(AcquisitionFrameRate)",
			"FeatureFloatGet(AcquisitionFrameRate)",
		}, fake.Calls())

		mode, _ := fake.Value(a.Handle(), AcquisitionMode)
		assert.Equal(t, "Continuous", mode)
		limit, _ := fake.Value(a.Handle(), ThroughputLimitMode)
		assert.Equal(t, "Off", limit)
	})

	t.Run("ZeroKeepsDeviceValues", func(t *testing.T) {
		a, fake := newAccess(t, nil)
		fake.ResetCalls()

		applied, err := a.Apply(Profile{})
		require.NoError(t, err)
		assert.Equal(t, Applied{}, applied)
		assert.Len(t, fake.Calls(), 3)
	})

	t.Run("Triggered", func(t *testing.T) {
		a, fake := newAccess(t, nil)

		_, err := a.Apply(Profile{ExposureTime: 500, Trigger: Line1})
		require.NoError(t, err)

		for name, want := range map[string]any{
			TriggerSource:     "Line1",
			TriggerMode:       "On",
			TriggerActivation: "RisingEdge",
			TriggerDelay:      0.0,
		} {
			got, _ := fake.Value(a.Handle(), name)
			assert.Equal(t, want, got, name)
		}
		exposure, _ := fake.Value(a.Handle(), ExposureTime)
		assert.Equal(t, 5000.0, exposure, "exposure untouched when triggered")
	})

	t.Run("FailureStopsSequence", func(t *testing.T) {
		a, fake := newAccess(t, nil)
		fake.Inject("FeatureEnumSet(AcquisitionMode)", vmb.StatusInvalidAccess, 0)
		fake.ResetCalls()

		_, err := a.Apply(Profile{ExposureTime: 500})
		assert.ErrorIs(t, err, vmb.StatusInvalidAccess)
		assert.Len(t, fake.Calls(), 2)
	})

	t.Run("InvalidProfile", func(t *testing.T) {
		a, _ := newAccess(t, nil)
		_, err := a.Apply(Profile{Trigger: "Line7"})
		assert.ErrorIs(t, err, vmb.ErrInvalidArgument)
		_, err = a.Apply(Profile{ExposureTime: -1})
		assert.ErrorIs(t, err, vmb.ErrInvalidArgument)
	})
}

func TestUserData(t *testing.T) {
	a, _ := newAccess(t, nil)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, a.WriteUserData(payload))

	got, err := a.ReadUserData(4)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	short, err := a.ReadUserData(2)
	require.NoError(t, err)
	assert.Equal(t, payload[:2], short)

	assert.True(t, errors.Is(a.WriteUserData(nil), ErrEmptyUserData))
}

func TestTimestampAndIdentity(t *testing.T) {
	a, _ := newAccess(t, nil)

	require.NoError(t, a.ResetTimestamp())
	ts, err := a.LatchTimestamp()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, int64(0))

	require.NoError(t, a.SetDeviceUserID("dock-2"))
	id, err := a.DeviceUserID()
	require.NoError(t, err)
	assert.Equal(t, "dock-2", id)

	require.NoError(t, a.SetMaxDriverBuffers(8))
	assert.ErrorIs(t, a.SetMaxDriverBuffers(0), vmb.ErrInvalidArgument)
	require.NoError(t, a.SetExposureAuto(true))
	require.NoError(t, a.DisableTrigger())
}

func TestWatchTemperature(t *testing.T) {
	a, fake := newAccess(t, nil)

	var (
		mu   sync.Mutex
		seen []float64
	)
	cancel, err := a.WatchTemperature(func(c float64) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	require.NoError(t, err)

	fake.Set(a.Handle(), DeviceTemperature, 48.25)
	fake.Set(a.Handle(), DeviceTemperature, 51.0)
	require.NoError(t, cancel())
	fake.Set(a.Handle(), DeviceTemperature, 60.0)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{48.25, 51.0}, seen)

	now, err := a.Temperature()
	require.NoError(t, err)
	assert.Equal(t, 60.0, now)
}

func TestWatchTemperature_PanicContained(t *testing.T) {
	a, fake := newAccess(t, nil)

	var calls int
	cancel, err := a.WatchTemperature(func(c float64) {
		calls++
		if c > 45 {
			panic("overheat handler")
		}
	})
	require.NoError(t, err)
	defer cancel()

	assert.NotPanics(t, func() { fake.Set(a.Handle(), DeviceTemperature, 48.0) })
	assert.EqualValues(t, 1, a.WatchErrors())

	fake.Set(a.Handle(), DeviceTemperature, 40.0)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, a.WatchErrors())
}

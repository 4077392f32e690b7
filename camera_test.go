package vmbcapture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmbfake"
)

func newTestSystem(t *testing.T, opts vmbfake.Options) (*System, *vmbfake.Service) {
	t.Helper()
	if opts.Cameras == nil {
		opts.Cameras = []vmbfake.Camera{vmbfake.DefaultCamera()}
	}
	fake := vmbfake.New(opts)
	sys, err := NewSystemWithService(fake, "/opt/VimbaX/cti")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown() })
	return sys, fake
}

func TestSystem_Discovery(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{})

	v, err := sys.Version()
	require.NoError(t, err)
	assert.Equal(t, "1.0.4", v.String())

	cams, err := sys.Cameras()
	require.NoError(t, err)
	require.Len(t, cams, 1)

	first, err := sys.FirstCamera()
	require.NoError(t, err)
	assert.Equal(t, "DEV_1AB22C00C3A1", first.ID)
	assert.Equal(t, "08H3B", first.Serial)
}

func TestSystem_NoCamera(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{Cameras: []vmbfake.Camera{}})

	_, err := sys.FirstCamera()
	assert.ErrorIs(t, err, ErrNoCamera)
	_, err = sys.OpenFirstCamera(CameraConfig{})
	assert.ErrorIs(t, err, ErrNoCamera)
}

func TestSystem_StartupFailure(t *testing.T) {
	fake := vmbfake.New(vmbfake.Options{})
	fake.Inject("Startup", vmb.StatusNoTL, 0)

	_, err := NewSystemWithService(fake)
	require.Error(t, err)
	assert.ErrorIs(t, err, vmb.StatusNoTL)
	assert.False(t, fake.Started())

	_, err = NewSystemWithService(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSystem_OpenCamera(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{})

	cam, err := sys.OpenCamera("08H3B", CameraConfig{})
	require.NoError(t, err)
	assert.Equal(t, "DEV_1AB22C00C3A1", cam.Info().ID)
	assert.Equal(t, defaultFrames, cam.cfg.Frames)
	assert.Equal(t, defaultOutputBuffer, cam.cfg.OutputBuffer)

	_, err = sys.OpenCamera("DEV_MISSING", CameraConfig{})
	assert.ErrorIs(t, err, vmb.StatusNotFound)
}

func TestSystem_InvalidCameraConfig(t *testing.T) {
	sys, fake := newTestSystem(t, vmbfake.Options{})
	fake.ResetCalls()

	for _, cfg := range []CameraConfig{
		{Frames: 2},
		{Frames: 65},
		{OutputBuffer: -1},
		{ExposureTime: -1},
		{FrameRate: -1},
		{Trigger: "Line9"},
	} {
		_, err := sys.OpenCamera("DEV_1AB22C00C3A1", cfg)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%+v", cfg)
	}
	assert.Empty(t, fake.Calls(), "config is validated before any native call")
}

func TestCamera_StartStop(t *testing.T) {
	sys, fake := newTestSystem(t, vmbfake.Options{FrameLimit: 20})
	cam, err := sys.OpenFirstCamera(CameraConfig{Frames: 4, OutputBuffer: 32, ExposureTime: 2500, FrameRate: 25})
	require.NoError(t, err)

	frames, err := cam.Start(context.Background())
	require.NoError(t, err)

	var got []Frame
	for len(got) < 20 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 20 frames", len(got))
		}
	}

	for i, f := range got {
		assert.EqualValues(t, i+1, f.Seq)
		assert.Equal(t, 64, f.Width)
		assert.Equal(t, 64, f.Height)
		assert.Equal(t, vmb.PixelFormatMono8, f.PixelFormat)
		assert.Equal(t, "DEV_1AB22C00C3A1", f.CameraID)
		assert.NotEmpty(t, f.TraceID)
		require.Len(t, f.Data, 4096)
		assert.Equal(t, byte(f.ID), f.Data[0], "payload is a copy of the filled buffer")
		if i > 0 {
			assert.Greater(t, f.ID, got[i-1].ID)
		}
	}

	st := cam.Stats()
	assert.True(t, st.IsCapturing)
	assert.Equal(t, session.Streaming.String(), st.State)
	assert.EqualValues(t, 20, st.FrameCount)
	assert.Equal(t, 4, st.Buffers)
	assert.InDelta(t, 2500, st.ExposureTime, 1e-9)
	assert.InDelta(t, 25, st.FrameRate, 1e-9)

	require.NoError(t, cam.Stop())
	require.NoError(t, cam.Stop())
	_, open := <-frames
	assert.False(t, open, "channel closed after Stop")

	st = cam.Stats()
	assert.False(t, st.IsCapturing)
	assert.Equal(t, session.Idle.String(), st.State)
	assert.Zero(t, fake.Announced(cam.h))
}

func TestCamera_DropsWhenConsumerIsBehind(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{FrameLimit: 50})
	cam, err := sys.OpenFirstCamera(CameraConfig{Frames: 3, OutputBuffer: 1})
	require.NoError(t, err)

	_, err = cam.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cam.Stop() })

	require.Eventually(t, func() bool {
		st := cam.Stats()
		return st.FramesDelivered+st.FramesDropped == 50 && st.Outstanding == 3
	}, 2*time.Second, time.Millisecond, "buffers go back to the driver regardless of the consumer")

	st := cam.Stats()
	assert.EqualValues(t, 50, st.FrameCount)
	assert.EqualValues(t, 1, st.FramesDelivered)
	assert.EqualValues(t, 49, st.FramesDropped)
	assert.InDelta(t, 98, st.DropRate, 1e-9)
}

func TestCamera_ContextCancelStops(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{FrameInterval: time.Millisecond})
	cam, err := sys.OpenFirstCamera(CameraConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := cam.Start(ctx)
	require.NoError(t, err)

	cancel()
	for range frames {
	}
	assert.False(t, cam.Stats().IsCapturing)
}

func TestCamera_StaleCancelKeepsNewSession(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{FrameInterval: time.Millisecond})
	cam, err := sys.OpenFirstCamera(CameraConfig{})
	require.NoError(t, err)

	_, err = cam.Start(context.Background())
	require.NoError(t, err)
	cam.mu.RLock()
	first := cam.sess
	cam.mu.RUnlock()
	require.NoError(t, cam.Stop())

	_, err = cam.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cam.Stop() })

	// the first session's cancel callback running late
	cam.stopSession(first)
	assert.True(t, cam.Stats().IsCapturing)
	assert.Equal(t, session.Streaming.String(), cam.Stats().State)
}

func TestCamera_StopRetryAfterFailedRevoke(t *testing.T) {
	sys, fake := newTestSystem(t, vmbfake.Options{FrameLimit: 3})
	cam, err := sys.OpenFirstCamera(CameraConfig{Frames: 3})
	require.NoError(t, err)

	frames, err := cam.Start(context.Background())
	require.NoError(t, err)

	fake.Inject("FrameRevokeAll", vmb.StatusBusy, 0)
	err = cam.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, vmb.StatusBusy)
	assert.Equal(t, 3, fake.Announced(cam.h), "buffers stay announced")
	assert.True(t, cam.Stats().IsCapturing)
	assert.Equal(t, session.Draining.String(), cam.Stats().State)

	fake.ClearFaults()
	require.NoError(t, cam.Stop())
	assert.Zero(t, fake.Announced(cam.h))
	assert.False(t, cam.Stats().IsCapturing)
	for range frames {
	}

	_, err = cam.Start(context.Background())
	require.NoError(t, err, "camera is reusable after the retried stop")
	require.NoError(t, cam.Close())
}

func TestCamera_StartWithHandler(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{FrameLimit: 12})
	cam, err := sys.OpenFirstCamera(CameraConfig{Frames: 3})
	require.NoError(t, err)

	var calls atomic.Int32
	err = cam.StartWithHandler(context.Background(), func(f Frame) error {
		switch calls.Add(1) {
		case 3:
			return errors.New("inference backend down")
		case 5:
			panic("nil model")
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 12 }, 2*time.Second, time.Millisecond)
	require.NoError(t, cam.Stop())

	st := cam.Stats()
	assert.EqualValues(t, 12, st.FrameCount)
	assert.EqualValues(t, 2, st.CallbackErrors)
	assert.Zero(t, st.FramesDelivered, "no channel in handler mode")

	assert.ErrorIs(t, cam.StartWithHandler(context.Background(), nil), ErrInvalidArgument)
}

func TestCamera_StartTwice(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{})
	cam, err := sys.OpenFirstCamera(CameraConfig{})
	require.NoError(t, err)

	_, err = cam.Start(context.Background())
	require.NoError(t, err)
	_, err = cam.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	require.NoError(t, cam.Stop())
}

func TestCamera_StartFailureLeavesCameraReusable(t *testing.T) {
	sys, fake := newTestSystem(t, vmbfake.Options{FrameLimit: 5})
	cam, err := sys.OpenFirstCamera(CameraConfig{Frames: 3})
	require.NoError(t, err)

	fake.Inject("CaptureStart", vmb.StatusInvalidCall, 0)
	_, err = cam.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, vmb.StatusInvalidCall)
	assert.False(t, cam.Stats().IsCapturing)
	assert.Zero(t, fake.Announced(cam.h), "partial session torn down")

	fake.ClearFaults()
	frames, err := cam.Start(context.Background())
	require.NoError(t, err)
	<-frames
	require.NoError(t, cam.Stop())
}

func TestCamera_Warmup(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{FrameInterval: 2 * time.Millisecond})
	cam, err := sys.OpenFirstCamera(CameraConfig{OutputBuffer: 1})
	require.NoError(t, err)

	_, err = cam.Warmup(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = cam.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cam.Stop() })

	st, err := cam.Warmup(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, st.IsStable)
	assert.InDelta(t, 500, st.FPSMean, 1e-6, "device timestamps advance one interval per frame")
	assert.Zero(t, st.Dropped)
}

func TestCamera_FeaturePassthrough(t *testing.T) {
	sys, _ := newTestSystem(t, vmbfake.Options{})
	cam, err := sys.OpenFirstCamera(CameraConfig{})
	require.NoError(t, err)

	applied, err := cam.SetExposure(5e7)
	require.NoError(t, err)
	assert.InDelta(t, 1e7, applied, 1e-9, "clamped to the device maximum")

	fps, err := cam.SetFrameRate(60)
	require.NoError(t, err)
	assert.InDelta(t, 60, fps, 1e-9)

	temp, err := cam.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 41.5, temp, 1e-9)

	require.NoError(t, cam.WriteUserData([]byte("bay-3")))
	data, err := cam.ReadUserData(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("bay-3"), data)
}

func TestSystem_ShutdownClosesCameras(t *testing.T) {
	fake := vmbfake.New(vmbfake.Options{Cameras: []vmbfake.Camera{vmbfake.DefaultCamera()}})
	sys, err := NewSystemWithService(fake)
	require.NoError(t, err)

	cam, err := sys.OpenFirstCamera(CameraConfig{})
	require.NoError(t, err)
	frames, err := cam.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, sys.Shutdown())
	require.NoError(t, sys.Shutdown())
	for range frames {
	}

	assert.False(t, fake.Started())
	_, err = sys.Cameras()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = cam.Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

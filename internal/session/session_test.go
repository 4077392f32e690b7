package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/feature"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/pool"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmbfake"
)

const waitFor = 5 * time.Second

func setup(t *testing.T, opts vmbfake.Options) (*vmb.Runtime, *vmbfake.Service, vmb.Handle) {
	t.Helper()
	fake := vmbfake.New(opts)
	rt := vmb.NewRuntime(fake)
	require.NoError(t, rt.Startup(""))
	t.Cleanup(rt.Shutdown)

	h, err := rt.OpenCamera(vmbfake.DefaultCamera().Info.ID, vmb.AccessModeFull)
	require.NoError(t, err)
	return rt, fake, h
}

// recorder is a handler that remembers what it saw.
type recorder struct {
	mu    sync.Mutex
	ids   []uint64
	slots []int
	first []byte
	fn    func(f *FrameView) error
}

func (r *recorder) OnFrameComplete(f *FrameView) error {
	r.mu.Lock()
	r.ids = append(r.ids, f.ID())
	r.slots = append(r.slots, f.Slot())
	r.first = append(r.first, f.Data()[0])
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(f)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func run(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())
	require.Equal(t, Streaming, s.State())
}

func TestSession_FIFOOrder(t *testing.T) {
	rt, _, h := setup(t, vmbfake.Options{FrameLimit: 4})
	rec := &recorder{}
	s, err := New(rt, h, rec, Config{Frames: 4})
	require.NoError(t, err)

	run(t, s)
	require.Eventually(t, func() bool { return rec.count() == 4 }, waitFor, time.Millisecond)
	require.NoError(t, s.Stop())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if diff := cmp.Diff([]int{0, 1, 2, 3}, rec.slots); diff != "" {
		t.Errorf("fill order mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(rec.ids); i++ {
		assert.Greater(t, rec.ids[i], rec.ids[i-1], "frame ids must increase")
	}
	for i, b := range rec.first {
		assert.Equal(t, byte(rec.ids[i]), b, "buffer content comes from the fill")
	}
}

func TestSession_FullCycle(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 100})
	var (
		mu        sync.Mutex
		announced []int
	)
	rec := &recorder{fn: func(f *FrameView) error {
		n := fake.Announced(h)
		mu.Lock()
		announced = append(announced, n)
		mu.Unlock()
		return nil
	}}
	s, err := New(rt, h, rec, Config{Frames: 16, Profile: feature.Profile{ExposureTime: 1000, FrameRate: 30}})
	require.NoError(t, err)

	run(t, s)
	assert.Equal(t, 16, fake.Announced(h))

	require.Eventually(t, func() bool {
		return rec.count() == 100 && fake.Queued(h) == 16
	}, waitFor, time.Millisecond)

	mu.Lock()
	require.Len(t, announced, 100)
	for i, n := range announced {
		assert.Equal(t, 16, n, "announced buffers during completion %d", i)
	}
	mu.Unlock()

	st := s.Stats()
	assert.EqualValues(t, 100, st.Frames)
	assert.Equal(t, 16, st.Outstanding, "every buffer is back with the driver")
	assert.Equal(t, 16, st.PoolSize)
	assert.Zero(t, st.CallbackErrors)
	assert.Zero(t, st.RequeueFailures)
	assert.EqualValues(t, 99, st.LastFrameID)

	p := s.Pool()
	require.NoError(t, s.Stop())

	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 0, fake.Announced(h))
	assert.Equal(t, 0, fake.Queued(h))
	assert.True(t, p.Released())
	assert.Nil(t, s.Pool())
	assert.Equal(t, feature.Applied{ExposureTime: 1000, FrameRate: 30}, s.Applied())
}

func TestSession_StopOrder(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 1})
	rec := &recorder{}
	s, err := New(rt, h, rec, Config{Frames: 3})
	require.NoError(t, err)
	run(t, s)
	require.Eventually(t, func() bool {
		return rec.count() == 1 && fake.Queued(h) == 3
	}, waitFor, time.Millisecond)

	fake.ResetCalls()
	require.NoError(t, s.Stop())
	assert.Equal(t, []string{
		"FeatureCommandRun(AcquisitionStop)",
		"CaptureEnd",
		"CaptureQueueFlush",
		"FrameRevokeAll",
	}, fake.Calls())
}

func TestSession_StartOrder(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 1})
	s, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)
	require.NoError(t, s.Prepare())

	fake.ResetCalls()
	require.NoError(t, s.Start())
	assert.Equal(t, []string{
		"CaptureStart",
		"CaptureFrameQueue",
		"CaptureFrameQueue",
		"CaptureFrameQueue",
		"FeatureCommandRun(AcquisitionStart)",
	}, fake.Calls()[:5])
	require.NoError(t, s.Stop())
}

func TestSession_CallbackContainment(t *testing.T) {
	t.Run("Panic", func(t *testing.T) {
		rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 10})
		rec := &recorder{fn: func(f *FrameView) error {
			if f.ID() == 1 {
				panic("decoder blew up")
			}
			return nil
		}}
		s, err := New(rt, h, rec, Config{Frames: 3})
		require.NoError(t, err)
		run(t, s)

		require.Eventually(t, func() bool {
			return rec.count() == 10 && fake.Queued(h) == 3
		}, waitFor, time.Millisecond)

		st := s.Stats()
		assert.EqualValues(t, 1, st.CallbackErrors)
		assert.EqualValues(t, 10, st.Frames, "panicking frame was re-queued and rotation continued")
		assert.Zero(t, st.RequeueFailures)
		require.NoError(t, s.Stop())
	})

	t.Run("Error", func(t *testing.T) {
		rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 6})
		rec := &recorder{fn: func(f *FrameView) error {
			return errors.New("downstream full")
		}}
		s, err := New(rt, h, rec, Config{Frames: 3})
		require.NoError(t, err)
		run(t, s)

		require.Eventually(t, func() bool {
			return rec.count() == 6 && fake.Queued(h) == 3
		}, waitFor, time.Millisecond)
		assert.EqualValues(t, 6, s.Stats().CallbackErrors)
		require.NoError(t, s.Stop())
	})
}

func TestSession_RequeueFailure(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 3})
	// The three initial queues succeed, every re-queue fails.
	fake.Inject("CaptureFrameQueue", vmb.StatusInvalidCall, 3)

	rec := &recorder{}
	s, err := New(rt, h, rec, Config{Frames: 3})
	require.NoError(t, err)
	run(t, s)

	require.Eventually(t, func() bool { return s.Stats().RequeueFailures == 3 }, waitFor, time.Millisecond)
	assert.Equal(t, 0, s.Stats().Outstanding)
	assert.Equal(t, 3, s.Pool().AnnouncedCount(), "out of rotation but still announced")

	fake.ClearFaults()
	require.NoError(t, s.Stop())
	assert.Equal(t, 0, fake.Announced(h))
}

func TestSession_OnePerHandle(t *testing.T) {
	rt, _, h := setup(t, vmbfake.Options{FrameLimit: 1})

	a, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)
	b, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)

	require.NoError(t, a.Prepare())
	assert.ErrorIs(t, b.Prepare(), ErrSessionActive)
	assert.Nil(t, b.Pool())

	require.NoError(t, a.Teardown())
	require.NoError(t, b.Teardown())
	require.NoError(t, b.Prepare())
	require.NoError(t, b.Teardown())
}

func TestSession_PrepareFailure(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{})
	fake.Inject("FrameAnnounce", vmb.StatusResources, 2)

	s, err := New(rt, h, &recorder{}, Config{Frames: 8})
	require.NoError(t, err)

	err = s.Prepare()
	assert.ErrorIs(t, err, vmb.StatusResources)
	assert.Equal(t, Idle, s.State())
	require.NotNil(t, s.Pool())
	assert.Equal(t, 2, fake.Announced(h))

	assert.ErrorIs(t, s.Prepare(), ErrState, "teardown required first")

	fake.ClearFaults()
	p := s.Pool()
	require.NoError(t, s.Teardown())
	assert.Equal(t, 0, fake.Announced(h))
	assert.True(t, p.Released())

	require.NoError(t, s.Prepare(), "session is reusable after teardown")
	require.NoError(t, s.Teardown())
}

func TestSession_ProfileFailure(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{})
	fake.Inject("FeatureEnumSet(AcquisitionMode)", vmb.StatusInvalidAccess, 0)

	s, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Prepare(), vmb.StatusInvalidAccess)
	assert.Nil(t, s.Pool())
	assert.Zero(t, fake.Announced(h))

	other, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)
	assert.ErrorIs(t, other.Prepare(), ErrSessionActive, "claim held until teardown")

	require.NoError(t, s.Teardown())
}

func TestSession_StartFailure(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 1})
	fake.Inject("CaptureFrameQueue", vmb.StatusBusy, 1)

	s, err := New(rt, h, &recorder{}, Config{Frames: 4})
	require.NoError(t, err)
	require.NoError(t, s.Prepare())

	err = s.Start()
	assert.ErrorIs(t, err, vmb.StatusBusy)
	assert.Equal(t, Announced, s.State())
	assert.Equal(t, pool.Application, s.Pool().Slot(1).Owner(), "failed queue returns ownership")

	fake.ClearFaults()
	fake.ResetCalls()
	require.NoError(t, s.Teardown())
	assert.Equal(t, []string{"CaptureEnd", "CaptureQueueFlush", "FrameRevokeAll"}, fake.Calls())
	assert.Equal(t, 0, fake.Announced(h))
	assert.Equal(t, Idle, s.State())
}

func TestSession_TeardownTolerance(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 2})
	s, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)
	run(t, s)

	fake.Inject("CaptureQueueFlush", vmb.StatusAlready, 0)
	fake.Inject("FrameRevokeAll", vmb.StatusNotFound, 0)
	require.NoError(t, s.Stop(), "tolerable statuses do not fail teardown")
	assert.Equal(t, Idle, s.State())

	fake.ClearFaults()
	assert.NoError(t, rt.RevokeAll(h), "revoking again is harmless")
	assert.NoError(t, s.Teardown())
}

func TestSession_TeardownFailureKeepsPool(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{FrameLimit: 2})
	s, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)
	run(t, s)

	fake.Inject("FrameRevokeAll", vmb.StatusBusy, 0)
	err = s.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, vmb.StatusBusy)
	assert.Equal(t, Draining, s.State())
	require.NotNil(t, s.Pool(), "announced memory is never released")

	fake.ClearFaults()
	require.NoError(t, s.Teardown())
	assert.Equal(t, Idle, s.State())
	assert.Nil(t, s.Pool())
}

func TestSession_StateErrors(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{})
	s, err := New(rt, h, &recorder{}, Config{Frames: 3})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(), ErrState)
	assert.ErrorIs(t, s.Stop(), ErrState)
	require.NoError(t, s.Prepare())
	assert.ErrorIs(t, s.Stop(), ErrState)
	assert.ErrorIs(t, s.Prepare(), ErrState)
	require.NoError(t, s.Teardown())
	assert.NoError(t, s.Teardown())
	assert.Equal(t, 0, fake.Announced(h))
}

func TestNew_Validation(t *testing.T) {
	rt, fake, h := setup(t, vmbfake.Options{})
	fake.ResetCalls()

	_, err := New(rt, h, &recorder{}, Config{Frames: 2})
	assert.ErrorIs(t, err, pool.ErrCount)
	_, err = New(rt, h, &recorder{}, Config{Frames: 65})
	assert.ErrorIs(t, err, pool.ErrCount)
	_, err = New(rt, 0, &recorder{}, Config{Frames: 3})
	assert.ErrorIs(t, err, vmb.ErrInvalidHandle)
	_, err = New(rt, h, nil, Config{Frames: 3})
	assert.ErrorIs(t, err, vmb.ErrInvalidArgument)
	_, err = New(rt, h, &recorder{}, Config{Frames: 3, Profile: feature.Profile{Trigger: "Line9"}})
	assert.ErrorIs(t, err, vmb.ErrInvalidArgument)

	assert.Empty(t, fake.Calls())
}

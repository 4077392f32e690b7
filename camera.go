package vmbcapture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/feature"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/session"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/warmup"
)

// Camera is an open camera. It implements CaptureProvider.
type Camera struct {
	sys    *System
	rt     *vmb.Runtime
	h      vmb.Handle
	info   CameraInfo
	cfg    CameraConfig
	access *feature.Access

	mu        sync.RWMutex
	sess      *session.Session
	last      session.Stats // stats of the last finished session
	frames    chan Frame
	handler   FrameHandler
	stopWatch func() bool
	started   time.Time
	closed    bool

	// Statistics (atomic, written on the driver thread)
	frameSeq      atomic.Uint64
	delivered     atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
	lastFrameAt   atomic.Int64 // unix nanoseconds

	samples atomic.Pointer[chan warmup.Sample]
}

func newCamera(sys *System, h vmb.Handle, info CameraInfo, cfg CameraConfig) *Camera {
	return &Camera{
		sys:    sys,
		rt:     sys.rt,
		h:      h,
		info:   info,
		cfg:    cfg,
		access: feature.New(sys.rt, h),
	}
}

// Info returns the camera description.
func (c *Camera) Info() CameraInfo { return c.info }

// Start implements CaptureProvider.
func (c *Camera) Start(ctx context.Context) (<-chan Frame, error) {
	frames := make(chan Frame, c.cfg.OutputBuffer)
	if err := c.start(ctx, frames, nil); err != nil {
		return nil, err
	}
	return frames, nil
}

// StartWithHandler implements CaptureProvider.
func (c *Camera) StartWithHandler(ctx context.Context, fn FrameHandler) error {
	if fn == nil {
		return fmt.Errorf("vmb-capture: nil frame handler: %w", ErrInvalidArgument)
	}
	return c.start(ctx, nil, fn)
}

// start runs Prepare and Start of a new session. A failure tears the
// partial session down before returning, so the camera is reusable.
func (c *Camera) start(ctx context.Context, frames chan Frame, fn FrameHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.sess != nil {
		return ErrAlreadyStarted
	}

	sess, err := session.New(c.rt, c.h, session.HandlerFunc(c.onFrame), session.Config{
		Frames: c.cfg.Frames,
		Profile: feature.Profile{
			ExposureTime: c.cfg.ExposureTime,
			FrameRate:    c.cfg.FrameRate,
			Trigger:      c.cfg.Trigger,
		},
	})
	if err != nil {
		return fmt.Errorf("vmb-capture: %w", err)
	}

	slog.Info("vmb-capture: starting capture",
		"camera_id", c.info.ID,
		"session_id", sess.ID(),
		"frames", c.cfg.Frames,
		"trigger", string(c.cfg.Trigger),
	)

	c.frames, c.handler = frames, fn
	c.frameSeq.Store(0)
	c.delivered.Store(0)
	c.framesDropped.Store(0)
	c.bytesRead.Store(0)
	c.lastFrameAt.Store(0)

	if err := sess.Prepare(); err != nil {
		c.abort(sess)
		return fmt.Errorf("vmb-capture: prepare: %w", err)
	}
	if err := sess.Start(); err != nil {
		c.abort(sess)
		return fmt.Errorf("vmb-capture: start: %w", err)
	}

	c.sess = sess
	c.started = time.Now()
	c.stopWatch = context.AfterFunc(ctx, func() { c.stopSession(sess) })

	applied := sess.Applied()
	slog.Info("vmb-capture: capture started",
		"camera_id", c.info.ID,
		"session_id", sess.ID(),
		"exposure_time", applied.ExposureTime,
		"frame_rate", applied.FrameRate,
	)
	return nil
}

// stopSession stops sess if it is still the camera's session. A cancel that
// fires after Stop must not stop a session started later.
func (c *Camera) stopSession(sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	slog.Debug("vmb-capture: context cancelled, stopping capture", "camera_id", c.info.ID, "session_id", sess.ID())
	if err := c.stopLocked(); err != nil {
		slog.Error("vmb-capture: stop on cancel failed", "camera_id", c.info.ID, "error", err)
	}
}

func (c *Camera) abort(sess *session.Session) {
	if err := sess.Teardown(); err != nil {
		slog.Error("vmb-capture: teardown after failed start",
			"camera_id", c.info.ID,
			"session_id", sess.ID(),
			"state", sess.State().String(),
			"error", err,
		)
	}
	c.last = sess.Stats()
	c.frames, c.handler = nil, nil
}

// onFrame runs on the driver thread.
//
// Channel mode copies the payload (the buffer goes straight back to the
// driver) and sends without blocking, dropping when the consumer is behind.
func (c *Camera) onFrame(v *session.FrameView) error {
	if !v.Complete() {
		slog.Debug("vmb-capture: skipping incomplete frame",
			"camera_id", c.info.ID,
			"frame_id", v.ID(),
			"status", v.Status().String(),
		)
		return nil
	}

	now := time.Now()
	c.lastFrameAt.Store(now.UnixNano())
	if p := c.samples.Load(); p != nil {
		select {
		case *p <- warmup.Sample{ID: v.ID(), Timestamp: v.Timestamp()}:
		default:
		}
	}

	data := v.Data()
	frame := Frame{
		Seq:         c.frameSeq.Add(1),
		ID:          v.ID(),
		Timestamp:   v.Timestamp(),
		ReceivedAt:  now,
		Width:       int(v.Width()),
		Height:      int(v.Height()),
		OffsetX:     int(v.OffsetX()),
		OffsetY:     int(v.OffsetY()),
		PixelFormat: v.PixelFormat(),
		CameraID:    c.info.ID,
	}

	if c.handler != nil {
		frame.Data = data
		c.bytesRead.Add(uint64(len(data)))
		return c.handler(frame)
	}

	frame.Data = make([]byte, len(data))
	copy(frame.Data, data)
	frame.TraceID = uuid.NewString()
	c.bytesRead.Add(uint64(len(data)))

	select {
	case c.frames <- frame:
		c.delivered.Add(1)
	default:
		c.framesDropped.Add(1)
		slog.Debug("vmb-capture: dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}
	return nil
}

// Stop implements CaptureProvider.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Camera) stopLocked() error {
	sess := c.sess
	if sess == nil {
		return nil
	}
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}

	slog.Info("vmb-capture: stopping capture", "camera_id", c.info.ID, "session_id", sess.ID())

	var err error
	if sess.State() == session.Streaming {
		err = sess.Stop()
	} else {
		// a previous Stop left buffers announced
		err = sess.Teardown()
	}
	if sess.State() != session.Idle {
		// buffers still announced; keep the session so Stop can be retried
		return fmt.Errorf("vmb-capture: stop: %w", err)
	}

	// CaptureEnd returned: no callback runs anymore, the channel can close.
	if c.frames != nil {
		close(c.frames)
	}
	c.last = sess.Stats()
	c.sess, c.frames, c.handler = nil, nil, nil

	slog.Info("vmb-capture: capture stopped",
		"camera_id", c.info.ID,
		"frames_captured", c.last.Frames,
		"frames_dropped", c.framesDropped.Load(),
		"uptime", time.Since(c.started),
	)
	if err != nil {
		return fmt.Errorf("vmb-capture: stop: %w", err)
	}
	return nil
}

// Stats implements CaptureProvider.
func (c *Camera) Stats() CaptureStats {
	c.mu.RLock()
	sess, last, started := c.sess, c.last, c.started
	c.mu.RUnlock()

	ss := last
	var applied feature.Applied
	if sess != nil {
		ss = sess.Stats()
		applied = sess.Applied()
	}

	delivered := c.delivered.Load()
	dropped := c.framesDropped.Load()
	st := CaptureStats{
		CameraID:        c.info.ID,
		SessionID:       ss.ID,
		State:           ss.State.String(),
		FrameCount:      ss.Frames,
		FramesDelivered: delivered,
		FramesDropped:   dropped,
		Incomplete:      ss.Incomplete,
		CallbackErrors:  ss.CallbackErrors,
		RequeueFailures: ss.RequeueFailures,
		LastFrameID:     ss.LastFrameID,
		Buffers:         ss.PoolSize,
		Outstanding:     ss.Outstanding,
		BytesRead:       c.bytesRead.Load(),
		ExposureTime:    applied.ExposureTime,
		FrameRate:       applied.FrameRate,
		IsCapturing:     sess != nil,
	}
	if total := delivered + dropped; total > 0 {
		st.DropRate = float64(dropped) / float64(total) * 100
	}
	if sess != nil && !started.IsZero() {
		if up := time.Since(started).Seconds(); up > 0 {
			st.FPSReal = float64(ss.Frames) / up
		}
	}
	if ns := c.lastFrameAt.Load(); ns != 0 {
		st.LatencyMS = time.Since(time.Unix(0, ns)).Milliseconds()
	}
	return st
}

// Warmup implements CaptureProvider.
func (c *Camera) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	c.mu.RLock()
	capturing := c.sess != nil
	c.mu.RUnlock()
	if !capturing {
		return nil, ErrNotStarted
	}

	ch := make(chan warmup.Sample, 1024)
	if !c.samples.CompareAndSwap(nil, &ch) {
		return nil, fmt.Errorf("vmb-capture: warmup already running")
	}
	defer c.samples.Store(nil)

	st, err := warmup.Run(ctx, ch, duration)
	if err != nil {
		return nil, fmt.Errorf("vmb-capture: %w", err)
	}
	if !st.IsStable {
		return st, fmt.Errorf("vmb-capture: fps mean=%.2f stddev=%.2f jitter=%.2fms: %w",
			st.FPSMean, st.FPSStdDev, st.JitterMean*1000, ErrUnstable)
	}
	return st, nil
}

// SetExposure implements CaptureProvider.
func (c *Camera) SetExposure(us float64) (float64, error) {
	return c.access.SetExposureTime(us)
}

// SetFrameRate implements CaptureProvider.
func (c *Camera) SetFrameRate(fps float64) (float64, error) {
	if err := c.access.EnableFrameRate(true); err != nil {
		return 0, err
	}
	return c.access.SetFrameRate(fps)
}

// Temperature returns the device temperature in degrees Celsius.
func (c *Camera) Temperature() (float64, error) { return c.access.Temperature() }

// WatchTemperature calls fn on every temperature change until the returned
// function is called.
func (c *Camera) WatchTemperature(fn func(celsius float64)) (func() error, error) {
	return c.access.WatchTemperature(fn)
}

// WriteUserData stores data in the camera's user file.
func (c *Camera) WriteUserData(data []byte) error { return c.access.WriteUserData(data) }

// ReadUserData reads up to size bytes from the camera's user file.
func (c *Camera) ReadUserData(size int) ([]byte, error) { return c.access.ReadUserData(size) }

// DeviceUserID returns the user-assigned device name.
func (c *Camera) DeviceUserID() (string, error) { return c.access.DeviceUserID() }

// LatchTimestamp returns the current device clock in nanoseconds.
func (c *Camera) LatchTimestamp() (int64, error) { return c.access.LatchTimestamp() }

// ResetTimestamp zeroes the device clock.
func (c *Camera) ResetTimestamp() error { return c.access.ResetTimestamp() }

// SetMaxDriverBuffers limits how many buffers the transport layer queues.
func (c *Camera) SetMaxDriverBuffers(n int64) error { return c.access.SetMaxDriverBuffers(n) }

// Close stops any capture and closes the camera. Idempotent.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := c.stopLocked(); err != nil {
		return err
	}
	c.closed = true
	c.sys.forget(c.h)

	if err := c.rt.CloseCamera(c.h); err != nil && !vmb.Tolerable(err) {
		return fmt.Errorf("vmb-capture: close camera %s: %w", c.info.ID, err)
	}
	slog.Info("vmb-capture: camera closed", "camera_id", c.info.ID)
	return nil
}

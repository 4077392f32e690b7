// Package session drives one asynchronous capture on one camera.
//
// A Session owns the frame pool, the pre-acquisition profile and the
// completion callback bridge. Control operations (Prepare, Start, Stop,
// Teardown) run on the caller's goroutine and are serialized; completions
// arrive on the driver thread and never take the control lock.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/feature"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/pool"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

var (
	// ErrState is returned when an operation is not valid in the current state.
	ErrState = errors.New("session: invalid state")
	// ErrSessionActive is returned by Prepare when another session holds the camera.
	ErrSessionActive = errors.New("session: camera already has an active session")
)

// Controller is the subset of vmb.Runtime a session drives.
type Controller interface {
	feature.Accessor
	pool.Announcer

	PayloadSize(h vmb.Handle) (uint32, error)
	RevokeAll(h vmb.Handle) error
	Queue(h vmb.Handle, d *vmb.FrameDescriptor, cb vmb.FrameCallback) error
	FlushQueue(h vmb.Handle) error
	CaptureStart(h vmb.Handle) error
	CaptureEnd(h vmb.Handle) error
	Claim(h vmb.Handle, owner string) error
	Unclaim(h vmb.Handle, owner string)
}

var _ Controller = (*vmb.Runtime)(nil)

// Config describes a capture session.
type Config struct {
	// Frames is the pool size, in [pool.MinFrames, pool.MaxFrames].
	Frames  int
	Profile feature.Profile
}

// sessionKeys feeds context[0] of every descriptor, unique per session in
// the process.
var sessionKeys atomic.Uintptr

// Session is one capture on one camera handle.
type Session struct {
	id      string
	key     uintptr
	rt      Controller
	h       vmb.Handle
	handler Handler
	cfg     Config
	access  *feature.Access
	onFrame vmb.FrameCallback

	mu                 sync.Mutex // serializes control operations
	claimed            bool
	captureStarted     bool
	acquisitionStarted bool
	applied            feature.Applied

	state atomic.Int32
	pool  atomic.Pointer[pool.Pool]
	stats counters
}

// New validates cfg and creates an idle session. Nothing is sent to the
// driver until Prepare.
func New(rt Controller, h vmb.Handle, handler Handler, cfg Config) (*Session, error) {
	if rt == nil || handler == nil {
		return nil, fmt.Errorf("session: nil controller or handler: %w", vmb.ErrInvalidArgument)
	}
	if !h.Valid() {
		return nil, fmt.Errorf("session: %w", vmb.ErrInvalidHandle)
	}
	if cfg.Frames < pool.MinFrames || cfg.Frames > pool.MaxFrames {
		return nil, fmt.Errorf("session: %d frames, want [%d,%d]: %w",
			cfg.Frames, pool.MinFrames, pool.MaxFrames, pool.ErrCount)
	}
	if !cfg.Profile.Trigger.Valid() {
		return nil, fmt.Errorf("session: trigger line %q: %w", cfg.Profile.Trigger, vmb.ErrInvalidArgument)
	}

	s := &Session{
		id:      uuid.NewString(),
		key:     sessionKeys.Add(1),
		rt:      rt,
		h:       h,
		handler: handler,
		cfg:     cfg,
		access:  feature.New(rt, h),
	}
	s.onFrame = s.complete
	return s, nil
}

// ID is the unique session id used in logs and as the handle claim owner.
func (s *Session) ID() string { return s.id }

// Handle is the camera handle.
func (s *Session) Handle() vmb.Handle { return s.h }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Applied returns the exposure and frame rate the device accepted.
func (s *Session) Applied() feature.Applied {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Pool returns the frame pool, nil before Prepare or after teardown.
func (s *Session) Pool() *pool.Pool { return s.pool.Load() }

// Prepare (Idle -> Announced) claims the camera, writes the profile, reads
// the payload size and allocates and announces the pool.
//
// A failure is returned immediately and nothing is rolled back: the claim
// and any partially announced pool stay attached. Call Teardown.
func (s *Session) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Idle || s.pool.Load() != nil {
		return fmt.Errorf("session: prepare in state %s: %w", st, ErrState)
	}

	if err := s.rt.Claim(s.h, s.id); err != nil {
		if errors.Is(err, vmb.ErrHandleClaimed) {
			return fmt.Errorf("session: prepare %s: %w", s.h, ErrSessionActive)
		}
		return fmt.Errorf("session: prepare: %w", err)
	}
	s.claimed = true

	applied, err := s.access.Apply(s.cfg.Profile)
	s.applied = applied
	if err != nil {
		return fmt.Errorf("session: profile: %w", err)
	}

	payload, err := s.rt.PayloadSize(s.h)
	if err != nil {
		return fmt.Errorf("session: payload size: %w", err)
	}

	p, err := pool.Allocate(s.rt, s.h, payload, s.cfg.Frames, s.key)
	if p != nil {
		s.pool.Store(p)
	}
	if err != nil {
		return fmt.Errorf("session: allocate: %w", err)
	}

	s.state.Store(int32(Announced))
	slog.Info("session: prepared",
		"session_id", s.id,
		"handle", s.h.String(),
		"frames", s.cfg.Frames,
		"payload_size", payload,
		"exposure_us", applied.ExposureTime,
		"frame_rate", applied.FrameRate,
		"trigger", string(s.cfg.Profile.Trigger),
	)
	return nil
}

// Start (Announced -> Streaming) starts the capture engine, queues every
// buffer in pool order and starts acquisition.
//
// A failure is returned immediately; call Teardown.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Announced {
		return fmt.Errorf("session: start in state %s: %w", st, ErrState)
	}
	p := s.pool.Load()

	if err := s.rt.CaptureStart(s.h); err != nil {
		return fmt.Errorf("session: capture start: %w", err)
	}
	s.captureStarted = true

	for _, slot := range p.Slots() {
		if err := s.queue(slot); err != nil {
			return fmt.Errorf("session: queue frame %d: %w", slot.Index(), err)
		}
	}

	if err := s.access.StartAcquisition(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.acquisitionStarted = true

	s.state.Store(int32(Streaming))
	slog.Info("session: streaming", "session_id", s.id, "handle", s.h.String(), "frames", p.Len())
	return nil
}

// queue hands a slot to the driver. The tag flips before the native call
// because the completion may arrive before Queue returns.
func (s *Session) queue(slot *pool.Slot) error {
	if err := slot.ToDriver(); err != nil {
		return err
	}
	if err := s.rt.Queue(s.h, slot.Descriptor(), s.onFrame); err != nil {
		_ = slot.ToApplication()
		return err
	}
	return nil
}

// Stop (Streaming -> Draining -> Idle) stops acquisition, ends capture
// (waiting for callbacks in flight), flushes the queue, revokes every
// buffer and releases the pool.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Streaming {
		return fmt.Errorf("session: stop in state %s: %w", st, ErrState)
	}
	return s.teardown()
}

// Teardown runs the reverse of whatever Prepare and Start completed. It is
// the recovery path after a failed Prepare or Start and is harmless on an
// idle session.
func (s *Session) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardown()
}

func (s *Session) teardown() error {
	var result *multierror.Error
	collect := func(step string, err error) {
		if err == nil {
			return
		}
		if vmb.Tolerable(err) {
			slog.Debug("session: teardown step tolerated", "session_id", s.id, "step", step, "error", err)
			return
		}
		slog.Warn("session: teardown step failed", "session_id", s.id, "step", step, "error", err)
		result = multierror.Append(result, fmt.Errorf("session: %s: %w", step, err))
	}

	from := s.State()
	s.state.Store(int32(Draining))

	if s.acquisitionStarted {
		collect("acquisition stop", s.access.StopAcquisition())
		s.acquisitionStarted = false
	}
	if s.captureStarted {
		collect("capture end", s.rt.CaptureEnd(s.h))
		collect("queue flush", s.rt.FlushQueue(s.h))
		s.captureStarted = false
	}

	if p := s.pool.Load(); p != nil {
		if n := p.Reclaim(); n > 0 {
			slog.Debug("session: reclaimed flushed frames", "session_id", s.id, "frames", n)
		}
		err := s.rt.RevokeAll(s.h)
		collect("revoke all", err)
		if err == nil || vmb.Tolerable(err) {
			p.MarkRevoked()
			if err := p.Release(); err != nil {
				collect("release", err)
			} else {
				s.pool.Store(nil)
			}
		}
	}

	if s.pool.Load() != nil {
		// Memory is still announced; keep the claim so nobody else announces
		// on the camera until a later Teardown succeeds.
		return result.ErrorOrNil()
	}

	if s.claimed {
		s.rt.Unclaim(s.h, s.id)
		s.claimed = false
	}
	s.state.Store(int32(Idle))

	if from != Idle {
		st := s.Stats()
		slog.Info("session: stopped",
			"session_id", s.id,
			"handle", s.h.String(),
			"from", from.String(),
			"frames", st.Frames,
			"incomplete", st.Incomplete,
			"callback_errors", st.CallbackErrors,
			"requeue_failures", st.RequeueFailures,
		)
	}
	return result.ErrorOrNil()
}

package session

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/pool"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

type counters struct {
	frames          atomic.Uint64
	incomplete      atomic.Uint64
	callbackErrors  atomic.Uint64
	requeueFailures atomic.Uint64
	foreign         atomic.Uint64
	lastFrameID     atomic.Uint64
}

// Stats is a snapshot of the session counters.
type Stats struct {
	ID              string
	State           State
	Frames          uint64 // completions received
	Incomplete      uint64 // completions with a non-complete status
	CallbackErrors  uint64 // handler errors and panics
	RequeueFailures uint64 // buffers dropped out of rotation
	Foreign         uint64 // descriptors not belonging to the pool
	LastFrameID     uint64
	Outstanding     int // buffers currently owned by the driver
	PoolSize        int
}

// Stats returns a snapshot. Safe from any goroutine.
func (s *Session) Stats() Stats {
	st := Stats{
		ID:              s.id,
		State:           s.State(),
		Frames:          s.stats.frames.Load(),
		Incomplete:      s.stats.incomplete.Load(),
		CallbackErrors:  s.stats.callbackErrors.Load(),
		RequeueFailures: s.stats.requeueFailures.Load(),
		Foreign:         s.stats.foreign.Load(),
		LastFrameID:     s.stats.lastFrameID.Load(),
	}
	if p := s.pool.Load(); p != nil {
		st.Outstanding = p.Outstanding()
		st.PoolSize = p.Len()
	}
	return st
}

// complete is the completion callback registered with every queued buffer.
// It runs on the driver thread.
//
// Steps:
//  1. Resolve the slot from the descriptor context.
//  2. Take ownership back from the driver.
//  3. Run the handler under a recover guard.
//  4. Re-queue the same descriptor unless the session is draining.
//
// Nothing escapes into the driver: errors and panics are logged and counted.
func (s *Session) complete(camera, stream vmb.Handle, d *vmb.FrameDescriptor) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.callbackErrors.Add(1)
			slog.Error("session: panic in completion bridge", "session_id", s.id, "panic", r)
		}
	}()

	p := s.pool.Load()
	if p == nil {
		s.stats.foreign.Add(1)
		return
	}
	slot, ok := p.Lookup(d)
	if !ok {
		s.stats.foreign.Add(1)
		slog.Warn("session: completion for unknown frame", "session_id", s.id, "handle", camera.String())
		return
	}
	if err := slot.ToApplication(); err != nil {
		slog.Error("session: completion for frame not owned by driver", "session_id", s.id, "slot", slot.Index(), "error", err)
		return
	}

	s.stats.frames.Add(1)
	if !d.Complete() {
		s.stats.incomplete.Add(1)
		slog.Debug("session: incomplete frame", "session_id", s.id, "slot", slot.Index(), "status", d.ReceiveStatus.String())
	}
	s.stats.lastFrameID.Store(d.FrameID)

	view := FrameView{camera: camera, stream: stream, slot: slot, desc: d}
	if err := s.invoke(&view); err != nil {
		s.stats.callbackErrors.Add(1)
		slog.Error("session: frame handler failed",
			"session_id", s.id,
			"frame_id", d.FrameID,
			"slot", slot.Index(),
			"error", err,
		)
	}

	if s.State() == Draining {
		return
	}
	s.requeue(slot)
}

func (s *Session) invoke(view *FrameView) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = vmb.NewCallbackError("OnFrameComplete", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := s.handler.OnFrameComplete(view); err != nil {
		return vmb.NewCallbackError("OnFrameComplete", err)
	}
	return nil
}

// requeue returns the buffer to the driver. On failure the slot stays with
// the application: out of rotation, still announced and revocable.
func (s *Session) requeue(slot *pool.Slot) {
	if err := s.queue(slot); err != nil {
		s.stats.requeueFailures.Add(1)
		slog.Warn("session: re-queue failed, frame out of rotation",
			"session_id", s.id,
			"slot", slot.Index(),
			"error", err,
		)
	}
}

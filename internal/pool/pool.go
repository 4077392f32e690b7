// Package pool owns the frame buffers handed to the capture driver.
//
// A Pool is a fixed set of slots carved out of one native memory arena:
// descriptors first, then payload buffers, every piece 64-byte aligned.
// The arena is never Go heap memory because the driver keeps raw pointers
// to descriptors and buffers between announce and revoke.
//
// Lifecycle:
//
//	Allocate (announces every slot) -> queue/complete cycles -> RevokeAll
//	-> MarkRevoked -> Release
//
// Release refuses while any slot is still announced or driver-owned.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

const (
	// MinFrames is the smallest pool that keeps the driver fed while the
	// application holds one buffer and another is being re-queued.
	MinFrames = 3
	// MaxFrames bounds the pool.
	MaxFrames = 64

	// Alignment of every buffer and descriptor in the arena.
	Alignment = 64

	descriptorStride = 128
)

var (
	ErrCount          = errors.New("pool: frame count out of range")
	ErrStillAnnounced = errors.New("pool: frames still announced")
	ErrDriverOwned    = errors.New("pool: frames still owned by the driver")
	ErrOwnership      = errors.New("pool: ownership violation")
)

// Announcer hands descriptors to the driver (vmb.Runtime).
type Announcer interface {
	Announce(h vmb.Handle, d *vmb.FrameDescriptor) error
}

// Pool is the FrameSet of one capture session. Its size never changes.
type Pool struct {
	handle  vmb.Handle
	key     uintptr
	payload uint32
	stride  int

	mu    sync.Mutex
	arena []byte
	slots []*Slot
}

// Allocate carves count slots of payloadSize bytes and announces each one
// on h, in slot order. key is stored in context[0] of every descriptor and
// the slot index in context[1].
//
// Arguments are validated before any native call. When an announce fails
// the pool is returned together with the error: slots before the failing
// one are announced and must be revoked before Release.
func Allocate(a Announcer, h vmb.Handle, payloadSize uint32, count int, key uintptr) (*Pool, error) {
	if count < MinFrames || count > MaxFrames {
		return nil, fmt.Errorf("pool: %d frames, want [%d,%d]: %w", count, MinFrames, MaxFrames, ErrCount)
	}
	if payloadSize == 0 {
		return nil, fmt.Errorf("pool: zero payload size: %w", vmb.ErrInvalidArgument)
	}
	if !h.Valid() {
		return nil, fmt.Errorf("pool: allocate: %w", vmb.ErrInvalidHandle)
	}
	if a == nil {
		return nil, fmt.Errorf("pool: nil announcer: %w", vmb.ErrInvalidArgument)
	}

	stride := alignUp(int(payloadSize), Alignment)
	descBytes := count * descriptorStride
	mem, err := mapArena(descBytes + count*stride)
	if err != nil {
		return nil, fmt.Errorf("pool: failed to map %d frames of %d bytes: %w", count, payloadSize, err)
	}

	p := &Pool{
		handle:  h,
		key:     key,
		payload: payloadSize,
		stride:  stride,
		arena:   mem,
		slots:   make([]*Slot, count),
	}

	for i := range p.slots {
		d := (*vmb.FrameDescriptor)(unsafe.Pointer(&mem[i*descriptorStride]))
		buf := mem[descBytes+i*stride : descBytes+i*stride+int(payloadSize) : descBytes+(i+1)*stride]

		*d = vmb.FrameDescriptor{}
		d.Buffer = uintptr(unsafe.Pointer(&buf[0]))
		d.BufferSize = payloadSize
		d.Context[0] = key
		d.Context[1] = uintptr(i)

		p.slots[i] = &Slot{index: i, desc: d, buf: buf}
	}

	for i, s := range p.slots {
		if err := a.Announce(h, s.desc); err != nil {
			slog.Error("pool: announce failed",
				"handle", h.String(),
				"frame", i,
				"frames", count,
				"error", err,
			)
			return p, fmt.Errorf("pool: announce frame %d of %d: %w", i, count, err)
		}
		s.announced.Store(true)
	}

	slog.Info("pool: frames announced",
		"handle", h.String(),
		"frames", count,
		"payload_size", payloadSize,
		"arena_bytes", len(mem),
	)
	return p, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Handle is the camera the pool is announced on.
func (p *Pool) Handle() vmb.Handle { return p.handle }

// Key is the value stored in context[0] of every descriptor.
func (p *Pool) Key() uintptr { return p.key }

// PayloadSize is the usable size of each buffer.
func (p *Pool) PayloadSize() uint32 { return p.payload }

// Len returns the number of slots.
func (p *Pool) Len() int { return len(p.slots) }

// Slot returns slot i.
func (p *Pool) Slot(i int) *Slot { return p.slots[i] }

// Slots returns the slots in FrameSet order.
func (p *Pool) Slots() []*Slot { return p.slots }

// Lookup resolves a descriptor handed back by the driver to its slot.
// It fails for descriptors that do not belong to this pool.
func (p *Pool) Lookup(d *vmb.FrameDescriptor) (*Slot, bool) {
	if d == nil || d.Context[0] != p.key {
		return nil, false
	}
	i := int(d.Context[1])
	if i < 0 || i >= len(p.slots) {
		return nil, false
	}
	s := p.slots[i]
	if s.desc != d {
		return nil, false
	}
	return s, true
}

// Outstanding counts the slots currently owned by the driver.
func (p *Pool) Outstanding() int {
	n := 0
	for _, s := range p.slots {
		if s.Owner() == Driver {
			n++
		}
	}
	return n
}

// AnnouncedCount counts the slots currently announced.
func (p *Pool) AnnouncedCount() int {
	n := 0
	for _, s := range p.slots {
		if s.Announced() {
			n++
		}
	}
	return n
}

// Reclaim hands every driver-owned slot back to the application. Call it
// after the fill queue was flushed and capture ended. It returns the number
// of slots reclaimed.
func (p *Pool) Reclaim() int {
	n := 0
	for _, s := range p.slots {
		if s.owner.CompareAndSwap(int32(Driver), int32(Application)) {
			n++
		}
	}
	return n
}

// MarkRevoked records that the driver no longer knows any descriptor of
// the pool (RevokeAll succeeded or reported nothing to revoke).
func (p *Pool) MarkRevoked() {
	for _, s := range p.slots {
		s.announced.Store(false)
	}
}

// Release unmaps the arena. It refuses while any slot is announced or owned
// by the driver, leaving the memory in place. Releasing twice is a no-op.
func (p *Pool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.arena == nil {
		return nil
	}
	if n := p.Outstanding(); n > 0 {
		return fmt.Errorf("pool: release with %d queued frames: %w", n, ErrDriverOwned)
	}
	if n := p.AnnouncedCount(); n > 0 {
		return fmt.Errorf("pool: release with %d announced frames: %w", n, ErrStillAnnounced)
	}

	if err := unmapArena(p.arena); err != nil {
		return fmt.Errorf("pool: unmap: %w", err)
	}
	p.arena = nil
	for _, s := range p.slots {
		s.desc = nil
		s.buf = nil
	}

	slog.Debug("pool: released", "handle", p.handle.String(), "frames", len(p.slots))
	return nil
}

// Released reports whether the arena has been unmapped.
func (p *Pool) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arena == nil
}

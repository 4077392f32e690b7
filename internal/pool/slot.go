package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// Owner tells who may touch a slot's buffer right now.
type Owner int32

const (
	// Application: the buffer is not queued; the caller may read it.
	Application Owner = iota
	// Driver: the buffer is queued and may be written at any moment.
	Driver
)

func (o Owner) String() string {
	if o == Driver {
		return "driver"
	}
	return "application"
}

// Slot is one descriptor/buffer pair of a Pool.
//
// Ownership is a single atomic tag flipped with compare-and-swap, so the
// control goroutine and the driver thread never need a lock to agree on
// who owns the buffer.
type Slot struct {
	index     int
	desc      *vmb.FrameDescriptor
	buf       []byte
	owner     atomic.Int32
	announced atomic.Bool
}

// Index is the position of the slot in its pool.
func (s *Slot) Index() int { return s.index }

// Descriptor returns the native descriptor announced for this slot.
func (s *Slot) Descriptor() *vmb.FrameDescriptor { return s.desc }

// Buffer returns the payload buffer. Only read it while the slot is owned
// by the application.
func (s *Slot) Buffer() []byte { return s.buf }

// Owner returns the current owner.
func (s *Slot) Owner() Owner { return Owner(s.owner.Load()) }

// Announced reports whether the driver currently knows the descriptor.
func (s *Slot) Announced() bool { return s.announced.Load() }

// ToDriver marks the slot as handed to the driver. Call it before queuing.
func (s *Slot) ToDriver() error {
	if !s.owner.CompareAndSwap(int32(Application), int32(Driver)) {
		return fmt.Errorf("pool: slot %d to driver: %w", s.index, ErrOwnership)
	}
	return nil
}

// ToApplication takes the slot back from the driver: on completion, after a
// failed queue, or after a flush.
func (s *Slot) ToApplication() error {
	if !s.owner.CompareAndSwap(int32(Driver), int32(Application)) {
		return fmt.Errorf("pool: slot %d to application: %w", s.index, ErrOwnership)
	}
	return nil
}

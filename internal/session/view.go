package session

import (
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/pool"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// FrameView is a read-only view of one completed descriptor.
//
// It is only valid during Handler.OnFrameComplete: as soon as the handler
// returns, the buffer goes back to the driver and is overwritten. Copy what
// must outlive the call.
type FrameView struct {
	camera vmb.Handle
	stream vmb.Handle
	slot   *pool.Slot
	desc   *vmb.FrameDescriptor
}

// Camera is the camera handle reported by the driver.
func (f *FrameView) Camera() vmb.Handle { return f.camera }

// Stream is the stream handle reported by the driver.
func (f *FrameView) Stream() vmb.Handle { return f.stream }

// Slot is the index of the buffer in the session pool.
func (f *FrameView) Slot() int { return f.slot.Index() }

// Status of the fill. The remaining fields are only meaningful when it is
// vmb.FrameStatusComplete.
func (f *FrameView) Status() vmb.FrameStatus { return f.desc.ReceiveStatus }

func (f *FrameView) Complete() bool { return f.desc.Complete() }
func (f *FrameView) ID() uint64 { return f.desc.FrameID }
func (f *FrameView) Timestamp() uint64 { return f.desc.Timestamp }
func (f *FrameView) Width() uint32 { return f.desc.Width }
func (f *FrameView) Height() uint32 { return f.desc.Height }
func (f *FrameView) OffsetX() uint32 { return f.desc.OffsetX }
func (f *FrameView) OffsetY() uint32 { return f.desc.OffsetY }
func (f *FrameView) PixelFormat() vmb.PixelFormat { return f.desc.PixelFormat }
func (f *FrameView) PayloadType() vmb.PayloadType { return f.desc.PayloadType }
func (f *FrameView) Flags() vmb.FrameFlags { return f.desc.ReceiveFlags }
func (f *FrameView) ChunkDataPresent() bool { return f.desc.ChunkDataPresent != 0 }
func (f *FrameView) Descriptor() *vmb.FrameDescriptor { return f.desc }

// Data returns the driver-filled buffer. Do not retain it.
func (f *FrameView) Data() []byte { return f.slot.Buffer() }

// Handler receives completed frames on the driver thread.
//
// OnFrameComplete must return quickly: the buffer is only re-queued after
// it returns. A returned error or a panic is contained, logged and counted;
// the frame is re-queued regardless.
type Handler interface {
	OnFrameComplete(f *FrameView) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f *FrameView) error

func (fn HandlerFunc) OnFrameComplete(f *FrameView) error { return fn(f) }

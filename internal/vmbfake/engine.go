package vmbfake

import (
	"time"
	"unsafe"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// streamOffset derives the stream handle passed to callbacks from the
// camera handle.
const streamOffset = 0x8

// run is the simulated driver thread of one camera. It pops queued
// descriptors in FIFO order while acquisition is running, fills them and
// calls their completion callback.
func (s *Service) run(c *camera, wake, stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case <-wake:
		}

		for {
			select {
			case <-stop:
				return
			default:
			}

			s.mu.Lock()
			if !c.acquiring || len(c.queue) == 0 ||
				(s.opts.FrameLimit > 0 && c.filled >= s.opts.FrameLimit) {
				s.mu.Unlock()
				break
			}
			q := c.queue[0]
			c.queue = c.queue[1:]
			id := c.nextFrameID
			c.nextFrameID++
			c.filled++
			ts := s.timestamp(c, id)
			s.mu.Unlock()

			fill(q.frame, c.spec, id, ts)
			if q.cb != nil {
				q.cb(c.handle, c.handle+streamOffset, q.frame)
			}

			if s.opts.FrameInterval > 0 {
				select {
				case <-stop:
					return
				case <-time.After(s.opts.FrameInterval):
				}
			}
		}
	}
}

// timestamp returns the device time of a fill in nanoseconds. Callers hold s.mu.
func (s *Service) timestamp(c *camera, id uint64) uint64 {
	if s.opts.FrameInterval > 0 {
		return id * uint64(s.opts.FrameInterval)
	}
	return uint64(time.Since(c.epoch))
}

// fill writes the output fields and stamps every payload byte with the
// low byte of the frame id.
func fill(d *vmb.FrameDescriptor, spec Camera, id, ts uint64) {
	d.FrameID = id
	d.Timestamp = ts
	d.ReceiveFlags = vmb.FrameFlagsDimension | vmb.FrameFlagsOffset |
		vmb.FrameFlagsFrameID | vmb.FrameFlagsTimestamp |
		vmb.FrameFlagsImageData | vmb.FrameFlagsPayloadType
	d.PayloadType = vmb.PayloadTypeImage
	d.PixelFormat = spec.PixelFormat
	d.Width, d.Height = spec.Width, spec.Height
	d.OffsetX, d.OffsetY = 0, 0
	d.ImageData = d.Buffer

	if d.BufferSize < spec.PayloadSize {
		d.ReceiveStatus = vmb.FrameStatusTooSmall
		return
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(d.Buffer)), spec.PayloadSize)
	for i := range data {
		data[i] = byte(id)
	}
	d.ReceiveStatus = vmb.FrameStatusComplete
}

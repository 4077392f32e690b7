package vmb

import "unsafe"

// FrameDescriptor mirrors VmbFrame_t. The driver reads the input fields when
// the descriptor is announced and queued, and writes the output fields during
// a fill cycle. It must live in memory the Go runtime never moves or frees
// behind the driver's back (see internal/pool).
//
// Pointer-typed native fields are kept as uintptr: the memory they reference
// is never Go heap memory.
type FrameDescriptor struct {
	// ----- in -----
	Buffer     uintptr // Comprises image and potentially chunk data
	BufferSize uint32
	_          uint32
	Context    [4]uintptr // User slots, never touched by the driver

	// ----- out -----
	ReceiveStatus    FrameStatus
	_                uint32
	FrameID          uint64
	Timestamp        uint64
	ImageData        uintptr
	ReceiveFlags     FrameFlags
	PixelFormat      PixelFormat
	Width            uint32
	Height           uint32
	OffsetX          uint32
	OffsetY          uint32
	PayloadType      PayloadType
	ChunkDataPresent uint8
	_                [3]byte
}

// FrameDescriptorSize is sizeof(VmbFrame_t) on 64-bit targets, passed as the
// struct-size checksum to FrameAnnounce.
const FrameDescriptorSize = 112

// descriptorSize is the Go layout size, checked against FrameDescriptorSize
// by CheckProcess.
const descriptorSize = unsafe.Sizeof(FrameDescriptor{})

// Complete reports whether the output fields of the last fill are valid.
func (d *FrameDescriptor) Complete() bool {
	return d.ReceiveStatus == FrameStatusComplete
}

// ResetOutput clears the driver-written fields before a descriptor is
// announced again.
func (d *FrameDescriptor) ResetOutput() {
	buffer, size, ctx := d.Buffer, d.BufferSize, d.Context
	*d = FrameDescriptor{Buffer: buffer, BufferSize: size, Context: ctx}
}

// FrameStatus is the result of one fill cycle.
type FrameStatus int32

const (
	FrameStatusComplete   FrameStatus = 0
	FrameStatusIncomplete FrameStatus = -1
	FrameStatusTooSmall   FrameStatus = -2
	FrameStatusInvalid    FrameStatus = -3
)

func (s FrameStatus) String() string {
	switch s {
	case FrameStatusComplete:
		return "complete"
	case FrameStatusIncomplete:
		return "incomplete"
	case FrameStatusTooSmall:
		return "too_small"
	case FrameStatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// FrameFlags tells which output fields the transport layer provided.
type FrameFlags uint32

const (
	FrameFlagsNone             FrameFlags = 0
	FrameFlagsDimension        FrameFlags = 1
	FrameFlagsOffset           FrameFlags = 2
	FrameFlagsFrameID          FrameFlags = 4
	FrameFlagsTimestamp        FrameFlags = 8
	FrameFlagsImageData        FrameFlags = 16
	FrameFlagsPayloadType      FrameFlags = 32
	FrameFlagsChunkDataPresent FrameFlags = 64
)

// Has reports whether all bits of f are set.
func (ff FrameFlags) Has(f FrameFlags) bool { return ff&f == f }

// PayloadType describes the kind of data in a filled buffer.
type PayloadType uint32

const (
	PayloadTypeUnknown        PayloadType = 0
	PayloadTypeImage          PayloadType = 1
	PayloadTypeRaw            PayloadType = 2
	PayloadTypeFile           PayloadType = 3
	PayloadTypeJPEG           PayloadType = 5
	PayloadTypeJPEG2000       PayloadType = 6
	PayloadTypeH264           PayloadType = 7
	PayloadTypeChunkOnly      PayloadType = 8
	PayloadTypeDeviceSpecific PayloadType = 9
	PayloadTypeGenDC          PayloadType = 11
)

func (p PayloadType) String() string {
	switch p {
	case PayloadTypeImage:
		return "image"
	case PayloadTypeRaw:
		return "raw"
	case PayloadTypeFile:
		return "file"
	case PayloadTypeJPEG:
		return "jpeg"
	case PayloadTypeJPEG2000:
		return "jpeg2000"
	case PayloadTypeH264:
		return "h264"
	case PayloadTypeChunkOnly:
		return "chunk_only"
	case PayloadTypeDeviceSpecific:
		return "device_specific"
	case PayloadTypeGenDC:
		return "gendc"
	default:
		return "unknown"
	}
}

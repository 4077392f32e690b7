package vmb

// FrameCallback is invoked on a driver thread each time a queued descriptor
// has been filled. It must not block for long and must not panic; the
// session bridge wraps user code accordingly.
type FrameCallback func(camera, stream Handle, frame *FrameDescriptor)

// InvalidationCallback is invoked when the value or state of a registered
// feature changes.
type InvalidationCallback func(h Handle, name string)

// Service is the native entry-point table, one method per VmbC function.
//
// Methods return the raw Status so that argument checking and error
// translation live in one place (Runtime). Implementations:
//   - Library: the real runtime loaded from libVmbC with purego
//   - vmbfake.Service: an in-memory driver for tests and dry runs
type Service interface {
	VersionQuery(info *VersionInfo) Status
	Startup(pathConfiguration string) Status
	Shutdown()

	// CamerasList is two-phase: with a nil list it only reports the count.
	CamerasList(list []CameraInfo, found *uint32) Status
	CameraOpen(id string, mode AccessMode, h *Handle) Status
	CameraClose(h Handle) Status

	PayloadSizeGet(h Handle, size *uint32) Status
	FrameAnnounce(h Handle, frame *FrameDescriptor, sizeofFrame uint32) Status
	FrameRevoke(h Handle, frame *FrameDescriptor) Status
	FrameRevokeAll(h Handle) Status
	CaptureStart(h Handle) Status
	CaptureEnd(h Handle) Status
	CaptureFrameQueue(h Handle, frame *FrameDescriptor, cb FrameCallback) Status
	CaptureQueueFlush(h Handle) Status

	FeatureCommandRun(h Handle, name string) Status
	FeatureBoolSet(h Handle, name string, v bool) Status
	FeatureBoolGet(h Handle, name string, v *bool) Status
	FeatureIntSet(h Handle, name string, v int64) Status
	FeatureIntGet(h Handle, name string, v *int64) Status
	FeatureFloatSet(h Handle, name string, v float64) Status
	FeatureFloatGet(h Handle, name string, v *float64) Status
	FeatureFloatRangeQuery(h Handle, name string, min, max *float64) Status
	FeatureEnumSet(h Handle, name string, v string) Status
	FeatureEnumGet(h Handle, name string, v *string) Status
	FeatureStringSet(h Handle, name string, v string) Status
	// FeatureStringGet is two-phase: a nil buf reports the required size
	// (including the terminating NUL) in filled.
	FeatureStringGet(h Handle, name string, buf []byte, filled *uint32) Status
	FeatureRawSet(h Handle, name string, buf []byte) Status
	FeatureRawGet(h Handle, name string, buf []byte, filled *uint32) Status
	FeatureAccessQuery(h Handle, name string, readable, writable *bool) Status
	FeatureInfoQuery(h Handle, name string, info *FeatureInfo) Status
	FeatureInvalidationRegister(h Handle, name string, cb InvalidationCallback) Status
	FeatureInvalidationUnregister(h Handle, name string) Status
}

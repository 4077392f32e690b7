package vmb

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Library is the Service backed by the vendor shared library (libVmbC.so,
// VmbC.dll). It is a thin marshalling layer: every method converts its Go
// arguments, calls the entry point and returns the raw Status.
type Library struct {
	path   string
	handle uintptr

	versionQuery                  func(info *VersionInfo, size uint32) Status
	startup                       startupFunc
	shutdown                      func()
	camerasList                   func(list *cameraInfoRaw, length uint32, found *uint32, size uint32) Status
	cameraOpen                    func(id string, mode AccessMode, h *Handle) Status
	cameraClose                   func(h Handle) Status
	payloadSizeGet                func(h Handle, size *uint32) Status
	frameAnnounce                 func(h Handle, frame *FrameDescriptor, size uint32) Status
	frameRevoke                   func(h Handle, frame *FrameDescriptor) Status
	frameRevokeAll                func(h Handle) Status
	captureStart                  func(h Handle) Status
	captureEnd                    func(h Handle) Status
	captureFrameQueue             func(h Handle, frame *FrameDescriptor, cb uintptr) Status
	captureQueueFlush             func(h Handle) Status
	featureCommandRun             func(h Handle, name string) Status
	featureBoolSet                func(h Handle, name string, v bool) Status
	featureBoolGet                func(h Handle, name string, v *uint8) Status
	featureIntSet                 func(h Handle, name string, v int64) Status
	featureIntGet                 func(h Handle, name string, v *int64) Status
	featureFloatSet               func(h Handle, name string, v float64) Status
	featureFloatGet               func(h Handle, name string, v *float64) Status
	featureFloatRangeQuery        func(h Handle, name string, min, max *float64) Status
	featureEnumSet                func(h Handle, name string, v string) Status
	featureEnumGet                func(h Handle, name string, v *uintptr) Status
	featureStringSet              func(h Handle, name string, v string) Status
	featureStringGet              func(h Handle, name string, buf *byte, size uint32, filled *uint32) Status
	featureRawSet                 func(h Handle, name string, buf *byte, size uint32) Status
	featureRawGet                 func(h Handle, name string, buf *byte, size uint32, filled *uint32) Status
	featureAccessQuery            func(h Handle, name string, readable, writable *uint8) Status
	featureInfoQuery              func(h Handle, name string, info *featureInfoRaw, size uint32) Status
	featureInvalidationRegister   func(h Handle, name string, cb uintptr, userContext uintptr) Status
	featureInvalidationUnregister func(h Handle, name string, cb uintptr) Status
}

var _ Service = (*Library)(nil)

// Load opens the shared library at path (the platform default name when
// empty) and binds every entry point. A missing symbol fails the load.
func Load(path string) (*Library, error) {
	if err := CheckProcess(); err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultLibraryName
	}

	handle, err := openLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("vmb: failed to load %s: %w", path, err)
	}

	l := &Library{path: path, handle: handle}
	if err := l.bind(); err != nil {
		_ = closeLibrary(handle)
		return nil, err
	}

	slog.Debug("vmb: native library loaded", "path", path)
	return l, nil
}

// Path returns the file the library was loaded from.
func (l *Library) Path() string { return l.path }

// Close unloads the shared library. The runtime must be shut down first.
func (l *Library) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := closeLibrary(l.handle)
	l.handle = 0
	return err
}

func (l *Library) bind() (err error) {
	// purego panics on a missing symbol; surface it as a load error.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vmb: failed to bind %s: %v", l.path, r)
		}
	}()

	table := []struct {
		fn     any
		symbol string
	}{
		{&l.versionQuery, "VmbVersionQuery"},
		{&l.startup, "VmbStartup"},
		{&l.shutdown, "VmbShutdown"},
		{&l.camerasList, "VmbCamerasList"},
		{&l.cameraOpen, "VmbCameraOpen"},
		{&l.cameraClose, "VmbCameraClose"},
		{&l.payloadSizeGet, "VmbPayloadSizeGet"},
		{&l.frameAnnounce, "VmbFrameAnnounce"},
		{&l.frameRevoke, "VmbFrameRevoke"},
		{&l.frameRevokeAll, "VmbFrameRevokeAll"},
		{&l.captureStart, "VmbCaptureStart"},
		{&l.captureEnd, "VmbCaptureEnd"},
		{&l.captureFrameQueue, "VmbCaptureFrameQueue"},
		{&l.captureQueueFlush, "VmbCaptureQueueFlush"},
		{&l.featureCommandRun, "VmbFeatureCommandRun"},
		{&l.featureBoolSet, "VmbFeatureBoolSet"},
		{&l.featureBoolGet, "VmbFeatureBoolGet"},
		{&l.featureIntSet, "VmbFeatureIntSet"},
		{&l.featureIntGet, "VmbFeatureIntGet"},
		{&l.featureFloatSet, "VmbFeatureFloatSet"},
		{&l.featureFloatGet, "VmbFeatureFloatGet"},
		{&l.featureFloatRangeQuery, "VmbFeatureFloatRangeQuery"},
		{&l.featureEnumSet, "VmbFeatureEnumSet"},
		{&l.featureEnumGet, "VmbFeatureEnumGet"},
		{&l.featureStringSet, "VmbFeatureStringSet"},
		{&l.featureStringGet, "VmbFeatureStringGet"},
		{&l.featureRawSet, "VmbFeatureRawSet"},
		{&l.featureRawGet, "VmbFeatureRawGet"},
		{&l.featureAccessQuery, "VmbFeatureAccessQuery"},
		{&l.featureInfoQuery, "VmbFeatureInfoQuery"},
		{&l.featureInvalidationRegister, "VmbFeatureInvalidationRegister"},
		{&l.featureInvalidationUnregister, "VmbFeatureInvalidationUnregister"},
	}
	for _, b := range table {
		purego.RegisterLibFunc(b.fn, l.handle, b.symbol)
	}
	return nil
}

// Probe reports whether the library at path loads and answers a version
// query. It never starts the runtime.
func Probe(path string) bool {
	l, err := Load(path)
	if err != nil {
		return false
	}
	defer l.Close()
	var info VersionInfo
	return l.VersionQuery(&info) == StatusSuccess
}

func (l *Library) VersionQuery(info *VersionInfo) Status {
	return l.versionQuery(info, versionInfoSize)
}

func (l *Library) Shutdown() { l.shutdown() }

func (l *Library) CamerasList(list []CameraInfo, found *uint32) Status {
	if len(list) == 0 {
		return l.camerasList(nil, 0, found, cameraInfoSize)
	}
	raw := make([]cameraInfoRaw, len(list))
	st := l.camerasList(&raw[0], uint32(len(raw)), found, cameraInfoSize)
	if st != StatusSuccess && st != StatusMoreData {
		return st
	}
	n := min(int(*found), len(raw))
	for i := 0; i < n; i++ {
		list[i] = raw[i].decode()
	}
	return st
}

func (l *Library) CameraOpen(id string, mode AccessMode, h *Handle) Status {
	return l.cameraOpen(id, mode, h)
}

func (l *Library) CameraClose(h Handle) Status { return l.cameraClose(h) }

func (l *Library) PayloadSizeGet(h Handle, size *uint32) Status {
	return l.payloadSizeGet(h, size)
}

func (l *Library) FrameAnnounce(h Handle, frame *FrameDescriptor, sizeofFrame uint32) Status {
	return l.frameAnnounce(h, frame, sizeofFrame)
}

func (l *Library) FrameRevoke(h Handle, frame *FrameDescriptor) Status {
	st := l.frameRevoke(h, frame)
	if st == StatusSuccess {
		dropFrameRoute(frame)
	}
	return st
}

func (l *Library) FrameRevokeAll(h Handle) Status {
	st := l.frameRevokeAll(h)
	if st == StatusSuccess {
		dropFrameRoutes(h)
	}
	return st
}

func (l *Library) CaptureStart(h Handle) Status { return l.captureStart(h) }

func (l *Library) CaptureEnd(h Handle) Status { return l.captureEnd(h) }

func (l *Library) CaptureFrameQueue(h Handle, frame *FrameDescriptor, cb FrameCallback) Status {
	var fn uintptr
	if cb != nil {
		fn = routeFrame(h, frame, cb)
	}
	st := l.captureFrameQueue(h, frame, fn)
	if st != StatusSuccess && cb != nil {
		dropFrameRoute(frame)
	}
	return st
}

func (l *Library) CaptureQueueFlush(h Handle) Status { return l.captureQueueFlush(h) }

func (l *Library) FeatureCommandRun(h Handle, name string) Status {
	return l.featureCommandRun(h, name)
}

func (l *Library) FeatureBoolSet(h Handle, name string, v bool) Status {
	return l.featureBoolSet(h, name, v)
}

func (l *Library) FeatureBoolGet(h Handle, name string, v *bool) Status {
	var b uint8
	st := l.featureBoolGet(h, name, &b)
	*v = b != 0
	return st
}

func (l *Library) FeatureIntSet(h Handle, name string, v int64) Status {
	return l.featureIntSet(h, name, v)
}

func (l *Library) FeatureIntGet(h Handle, name string, v *int64) Status {
	return l.featureIntGet(h, name, v)
}

func (l *Library) FeatureFloatSet(h Handle, name string, v float64) Status {
	return l.featureFloatSet(h, name, v)
}

func (l *Library) FeatureFloatGet(h Handle, name string, v *float64) Status {
	return l.featureFloatGet(h, name, v)
}

func (l *Library) FeatureFloatRangeQuery(h Handle, name string, min, max *float64) Status {
	return l.featureFloatRangeQuery(h, name, min, max)
}

func (l *Library) FeatureEnumSet(h Handle, name string, v string) Status {
	return l.featureEnumSet(h, name, v)
}

func (l *Library) FeatureEnumGet(h Handle, name string, v *string) Status {
	var p uintptr
	st := l.featureEnumGet(h, name, &p)
	if st == StatusSuccess {
		*v = goString(p)
	}
	return st
}

func (l *Library) FeatureStringSet(h Handle, name string, v string) Status {
	return l.featureStringSet(h, name, v)
}

func (l *Library) FeatureStringGet(h Handle, name string, buf []byte, filled *uint32) Status {
	return l.featureStringGet(h, name, bufPtr(buf), uint32(len(buf)), filled)
}

func (l *Library) FeatureRawSet(h Handle, name string, buf []byte) Status {
	return l.featureRawSet(h, name, bufPtr(buf), uint32(len(buf)))
}

func (l *Library) FeatureRawGet(h Handle, name string, buf []byte, filled *uint32) Status {
	return l.featureRawGet(h, name, bufPtr(buf), uint32(len(buf)), filled)
}

func (l *Library) FeatureAccessQuery(h Handle, name string, readable, writable *bool) Status {
	var r, w uint8
	st := l.featureAccessQuery(h, name, &r, &w)
	*readable, *writable = r != 0, w != 0
	return st
}

func (l *Library) FeatureInfoQuery(h Handle, name string, info *FeatureInfo) Status {
	var raw featureInfoRaw
	st := l.featureInfoQuery(h, name, &raw, featureInfoSize)
	if st == StatusSuccess {
		*info = raw.decode()
	}
	return st
}

func (l *Library) FeatureInvalidationRegister(h Handle, name string, cb InvalidationCallback) Status {
	fn := routeInvalidation(h, name, cb)
	st := l.featureInvalidationRegister(h, name, fn, 0)
	if st != StatusSuccess {
		dropInvalidationRoute(h, name)
	}
	return st
}

func (l *Library) FeatureInvalidationUnregister(h Handle, name string) Status {
	st := l.featureInvalidationUnregister(h, name, invalidationTrampoline())
	if st == StatusSuccess {
		dropInvalidationRoute(h, name)
	}
	return st
}

func bufPtr(buf []byte) *byte {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.SliceData(buf)
}

package vmb

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"
)

// ErrHandleClaimed is returned by Claim when another owner holds the handle.
var ErrHandleClaimed = errors.New("vmb: handle already claimed")

// ErrUserCallback is the kind reported for failures raised by application
// code inside a driver callback.
const ErrUserCallback = StatusUserCallbackException

// CheckProcess verifies the process can talk to the runtime: the native
// structs are laid out for 64-bit targets only.
func CheckProcess() error {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		return fmt.Errorf("vmb: 64-bit process required, running %d-bit", unsafe.Sizeof(uintptr(0))*8)
	}
	if descriptorSize != FrameDescriptorSize {
		return fmt.Errorf("vmb: frame descriptor layout is %d bytes, want %d", descriptorSize, FrameDescriptorSize)
	}
	return nil
}

// Runtime is the process-wide context over a Service.
//
// Every operation validates its arguments before the native call, so a
// usage error (ErrInvalidHandle, ErrInvalidArgument) never reaches the
// driver, and every non-success status comes back as *Error.
//
// Runtime also keeps the handle claim registry used to guarantee at most
// one active capture session per camera.
type Runtime struct {
	svc Service

	mu      sync.Mutex
	started bool
	claims  map[Handle]string
}

// NewRuntime wraps svc. Nothing is called until Startup.
func NewRuntime(svc Service) *Runtime {
	return &Runtime{
		svc:    svc,
		claims: make(map[Handle]string),
	}
}

// Service returns the underlying entry-point table.
func (r *Runtime) Service() Service { return r.svc }

// Startup initializes the runtime with the given transport layer search
// path. On failure a best-effort Shutdown runs before the error is returned.
func (r *Runtime) Startup(path string) error {
	if r.svc == nil {
		return ErrNotLoaded
	}
	if st := r.svc.Startup(path); st != StatusSuccess {
		r.svc.Shutdown()
		slog.Error("vmb: startup failed", "status", st.Kind(), "code", int32(st), "path", path)
		return st.Err("Startup")
	}

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	slog.Info("vmb: runtime started", "path", path)
	return nil
}

// Shutdown releases the runtime. Calling it when not started is harmless.
func (r *Runtime) Shutdown() {
	if r.svc == nil {
		return
	}
	r.svc.Shutdown()

	r.mu.Lock()
	wasStarted := r.started
	r.started = false
	clear(r.claims)
	r.mu.Unlock()

	if wasStarted {
		slog.Info("vmb: runtime shut down")
	}
}

// Started reports whether Startup succeeded and Shutdown was not called since.
func (r *Runtime) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Claim marks h as owned by owner. It fails with ErrHandleClaimed while
// another owner holds it; claiming twice with the same owner is a no-op.
func (r *Runtime) Claim(h Handle, owner string) error {
	if !h.Valid() {
		return fmt.Errorf("vmb: claim: %w", ErrInvalidHandle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.claims[h]; ok && cur != owner {
		return fmt.Errorf("vmb: claim %s by %s: held by %s: %w", h, owner, cur, ErrHandleClaimed)
	}
	r.claims[h] = owner
	return nil
}

// Unclaim releases h if owner holds it.
func (r *Runtime) Unclaim(h Handle, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[h] == owner {
		delete(r.claims, h)
	}
}

// Version queries the runtime version. Valid before Startup.
func (r *Runtime) Version() (VersionInfo, error) {
	var info VersionInfo
	if r.svc == nil {
		return info, ErrNotLoaded
	}
	err := r.svc.VersionQuery(&info).Err("VersionQuery")
	return info, err
}

// Cameras lists the cameras known to the runtime (two-phase query).
func (r *Runtime) Cameras() ([]CameraInfo, error) {
	var count uint32
	if err := r.svc.CamerasList(nil, &count).Err("CamerasList"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	list := make([]CameraInfo, count)
	var found uint32
	st := r.svc.CamerasList(list, &found)
	// A camera may disappear between the two calls; MoreData means one appeared.
	if st != StatusSuccess && st != StatusMoreData {
		return nil, st.Err("CamerasList")
	}
	return list[:min(found, count)], nil
}

// OpenCamera opens the camera with the given id.
func (r *Runtime) OpenCamera(id string, mode AccessMode) (Handle, error) {
	if id == "" {
		return 0, fmt.Errorf("vmb: CameraOpen: empty id: %w", ErrInvalidArgument)
	}
	var h Handle
	if err := r.svc.CameraOpen(id, mode, &h).Err("CameraOpen"); err != nil {
		return 0, err
	}
	slog.Info("vmb: camera opened", "camera_id", id, "access", mode.String(), "handle", h.String())
	return h, nil
}

// CloseCamera closes h.
func (r *Runtime) CloseCamera(h Handle) error {
	if err := checkHandle("CameraClose", h); err != nil {
		return err
	}
	if err := r.svc.CameraClose(h).Err("CameraClose"); err != nil {
		return err
	}
	slog.Info("vmb: camera closed", "handle", h.String())
	return nil
}

// PayloadSize returns the buffer size required for one frame.
func (r *Runtime) PayloadSize(h Handle) (uint32, error) {
	if err := checkHandle("PayloadSizeGet", h); err != nil {
		return 0, err
	}
	var size uint32
	err := r.svc.PayloadSizeGet(h, &size).Err("PayloadSizeGet")
	return size, err
}

// Announce hands the descriptor (and the buffer it points to) to the driver.
func (r *Runtime) Announce(h Handle, d *FrameDescriptor) error {
	if err := checkFrame("FrameAnnounce", h, d); err != nil {
		return err
	}
	return r.svc.FrameAnnounce(h, d, FrameDescriptorSize).Err("FrameAnnounce")
}

// Revoke takes an announced descriptor back. Revoking a descriptor that is
// still queued races the driver; flush the queue first.
func (r *Runtime) Revoke(h Handle, d *FrameDescriptor) error {
	if err := checkFrame("FrameRevoke", h, d); err != nil {
		return err
	}
	return r.svc.FrameRevoke(h, d).Err("FrameRevoke")
}

// RevokeAll takes back every descriptor announced on h.
func (r *Runtime) RevokeAll(h Handle) error {
	if err := checkHandle("FrameRevokeAll", h); err != nil {
		return err
	}
	return r.svc.FrameRevokeAll(h).Err("FrameRevokeAll")
}

// Queue places an announced descriptor in the fill queue. cb may be nil.
func (r *Runtime) Queue(h Handle, d *FrameDescriptor, cb FrameCallback) error {
	if err := checkFrame("CaptureFrameQueue", h, d); err != nil {
		return err
	}
	return r.svc.CaptureFrameQueue(h, d, cb).Err("CaptureFrameQueue")
}

// FlushQueue removes every pending descriptor from the fill queue.
func (r *Runtime) FlushQueue(h Handle) error {
	if err := checkHandle("CaptureQueueFlush", h); err != nil {
		return err
	}
	return r.svc.CaptureQueueFlush(h).Err("CaptureQueueFlush")
}

// CaptureStart prepares the driver for filling queued descriptors.
func (r *Runtime) CaptureStart(h Handle) error {
	if err := checkHandle("CaptureStart", h); err != nil {
		return err
	}
	return r.svc.CaptureStart(h).Err("CaptureStart")
}

// CaptureEnd stops the capture engine. It blocks until in-flight completion
// callbacks have returned and cannot be cancelled.
func (r *Runtime) CaptureEnd(h Handle) error {
	if err := checkHandle("CaptureEnd", h); err != nil {
		return err
	}
	return r.svc.CaptureEnd(h).Err("CaptureEnd")
}

// RunCommand executes a command feature.
func (r *Runtime) RunCommand(h Handle, name string) error {
	if err := checkFeature("FeatureCommandRun", h, name); err != nil {
		return err
	}
	return r.svc.FeatureCommandRun(h, name).Err(featureOp("FeatureCommandRun", name))
}

func (r *Runtime) SetBool(h Handle, name string, v bool) error {
	if err := checkFeature("FeatureBoolSet", h, name); err != nil {
		return err
	}
	return r.svc.FeatureBoolSet(h, name, v).Err(featureOp("FeatureBoolSet", name))
}

func (r *Runtime) Bool(h Handle, name string) (bool, error) {
	var v bool
	if err := checkFeature("FeatureBoolGet", h, name); err != nil {
		return v, err
	}
	err := r.svc.FeatureBoolGet(h, name, &v).Err(featureOp("FeatureBoolGet", name))
	return v, err
}

func (r *Runtime) SetInt(h Handle, name string, v int64) error {
	if err := checkFeature("FeatureIntSet", h, name); err != nil {
		return err
	}
	return r.svc.FeatureIntSet(h, name, v).Err(featureOp("FeatureIntSet", name))
}

func (r *Runtime) Int(h Handle, name string) (int64, error) {
	var v int64
	if err := checkFeature("FeatureIntGet", h, name); err != nil {
		return v, err
	}
	err := r.svc.FeatureIntGet(h, name, &v).Err(featureOp("FeatureIntGet", name))
	return v, err
}

func (r *Runtime) SetFloat(h Handle, name string, v float64) error {
	if err := checkFeature("FeatureFloatSet", h, name); err != nil {
		return err
	}
	return r.svc.FeatureFloatSet(h, name, v).Err(featureOp("FeatureFloatSet", name))
}

func (r *Runtime) Float(h Handle, name string) (float64, error) {
	var v float64
	if err := checkFeature("FeatureFloatGet", h, name); err != nil {
		return v, err
	}
	err := r.svc.FeatureFloatGet(h, name, &v).Err(featureOp("FeatureFloatGet", name))
	return v, err
}

// FloatRange returns the inclusive bounds of a float feature.
func (r *Runtime) FloatRange(h Handle, name string) (lo, hi float64, err error) {
	if err := checkFeature("FeatureFloatRangeQuery", h, name); err != nil {
		return 0, 0, err
	}
	err = r.svc.FeatureFloatRangeQuery(h, name, &lo, &hi).Err(featureOp("FeatureFloatRangeQuery", name))
	return lo, hi, err
}

func (r *Runtime) SetEnum(h Handle, name, v string) error {
	if err := checkFeature("FeatureEnumSet", h, name); err != nil {
		return err
	}
	if v == "" {
		return fmt.Errorf("vmb: FeatureEnumSet %s: empty value: %w", name, ErrInvalidArgument)
	}
	return r.svc.FeatureEnumSet(h, name, v).Err(featureOp("FeatureEnumSet", name))
}

func (r *Runtime) Enum(h Handle, name string) (string, error) {
	var v string
	if err := checkFeature("FeatureEnumGet", h, name); err != nil {
		return v, err
	}
	err := r.svc.FeatureEnumGet(h, name, &v).Err(featureOp("FeatureEnumGet", name))
	return v, err
}

func (r *Runtime) SetString(h Handle, name, v string) error {
	if err := checkFeature("FeatureStringSet", h, name); err != nil {
		return err
	}
	return r.svc.FeatureStringSet(h, name, v).Err(featureOp("FeatureStringSet", name))
}

// String reads a string feature: the first call sizes the buffer, the
// second fills it.
func (r *Runtime) String(h Handle, name string) (string, error) {
	if err := checkFeature("FeatureStringGet", h, name); err != nil {
		return "", err
	}
	op := featureOp("FeatureStringGet", name)

	var size uint32
	if err := r.svc.FeatureStringGet(h, name, nil, &size).Err(op); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	var filled uint32
	if err := r.svc.FeatureStringGet(h, name, buf, &filled).Err(op); err != nil {
		return "", err
	}
	buf = buf[:min(filled, size)]
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// SetRaw writes a raw (byte block) feature.
func (r *Runtime) SetRaw(h Handle, name string, data []byte) error {
	if err := checkFeature("FeatureRawSet", h, name); err != nil {
		return err
	}
	return r.svc.FeatureRawSet(h, name, data).Err(featureOp("FeatureRawSet", name))
}

// Raw reads a raw feature into buf and returns the number of bytes filled.
func (r *Runtime) Raw(h Handle, name string, buf []byte) (int, error) {
	if err := checkFeature("FeatureRawGet", h, name); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, fmt.Errorf("vmb: FeatureRawGet %s: empty buffer: %w", name, ErrInvalidArgument)
	}
	var filled uint32
	err := r.svc.FeatureRawGet(h, name, buf, &filled).Err(featureOp("FeatureRawGet", name))
	return int(min(filled, uint32(len(buf)))), err
}

// FeatureAccess reports whether the feature can currently be read and written.
func (r *Runtime) FeatureAccess(h Handle, name string) (readable, writable bool, err error) {
	if err := checkFeature("FeatureAccessQuery", h, name); err != nil {
		return false, false, err
	}
	err = r.svc.FeatureAccessQuery(h, name, &readable, &writable).Err(featureOp("FeatureAccessQuery", name))
	return readable, writable, err
}

// FeatureInfo describes a feature.
func (r *Runtime) FeatureInfo(h Handle, name string) (FeatureInfo, error) {
	var info FeatureInfo
	if err := checkFeature("FeatureInfoQuery", h, name); err != nil {
		return info, err
	}
	err := r.svc.FeatureInfoQuery(h, name, &info).Err(featureOp("FeatureInfoQuery", name))
	return info, err
}

// RegisterInvalidation calls cb whenever the feature changes. One callback
// per (handle, feature); registering again replaces it.
func (r *Runtime) RegisterInvalidation(h Handle, name string, cb InvalidationCallback) error {
	if err := checkFeature("FeatureInvalidationRegister", h, name); err != nil {
		return err
	}
	if cb == nil {
		return fmt.Errorf("vmb: FeatureInvalidationRegister %s: nil callback: %w", name, ErrInvalidArgument)
	}
	return r.svc.FeatureInvalidationRegister(h, name, cb).Err(featureOp("FeatureInvalidationRegister", name))
}

func (r *Runtime) UnregisterInvalidation(h Handle, name string) error {
	if err := checkFeature("FeatureInvalidationUnregister", h, name); err != nil {
		return err
	}
	return r.svc.FeatureInvalidationUnregister(h, name).Err(featureOp("FeatureInvalidationUnregister", name))
}

func checkHandle(op string, h Handle) error {
	if !h.Valid() {
		return fmt.Errorf("vmb: %s: %w", op, ErrInvalidHandle)
	}
	return nil
}

func checkFrame(op string, h Handle, d *FrameDescriptor) error {
	if err := checkHandle(op, h); err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("vmb: %s: nil frame: %w", op, ErrInvalidArgument)
	}
	return nil
}

func checkFeature(op string, h Handle, name string) error {
	if err := checkHandle(op, h); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("vmb: %s: empty feature name: %w", op, ErrInvalidArgument)
	}
	return nil
}

func featureOp(op, name string) string { return op + "(" + name + ")" }

// Package vmbfake is an in-memory stand-in for the native capture runtime.
//
// It implements vmb.Service at the raw status level: descriptors are really
// announced and queued, a per-camera goroutine plays the driver thread and
// fills queued buffers in FIFO order, and CaptureEnd waits for the callback
// in flight. Tests inject failures per entry point and inspect the call log.
package vmbfake

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// Camera describes one simulated device.
type Camera struct {
	Info        vmb.CameraInfo
	PayloadSize uint32
	Width       uint32
	Height      uint32
	PixelFormat vmb.PixelFormat
}

// Options configures the fake runtime.
type Options struct {
	Cameras []Camera

	// FrameInterval is the simulated time between two fills. With zero the
	// driver fills back-to-back and timestamps follow the wall clock.
	FrameInterval time.Duration

	// FrameLimit stops filling after this many frames per capture start.
	// Zero means unlimited.
	FrameLimit int

	// Features overrides or adds features on every camera.
	Features map[string]Feature

	Version vmb.VersionInfo
}

// DefaultCamera is a small mono camera, enough for most tests.
func DefaultCamera() Camera {
	return Camera{
		Info: vmb.CameraInfo{
			ID:              "DEV_1AB22C00C3A1",
			ExtendedID:      "VimbaUSBTL.cti:DEV_1AB22C00C3A1",
			Name:            "Allied Vision 1800 U-240m",
			Model:           "1800 U-240m",
			Serial:          "08H3B",
			StreamCount:     1,
			PermittedAccess: vmb.AccessModeFull | vmb.AccessModeRead,
		},
		PayloadSize: 4096,
		Width:       64,
		Height:      64,
		PixelFormat: vmb.PixelFormatMono8,
	}
}

// Service is the fake runtime. The zero value is not usable; call New.
type Service struct {
	opts Options

	mu         sync.Mutex
	started    bool
	nextHandle vmb.Handle
	open       map[vmb.Handle]*camera
	calls      []string
	faults     map[string]*fault
}

type fault struct {
	status vmb.Status
	skip   int
}

type queued struct {
	frame *vmb.FrameDescriptor
	cb    vmb.FrameCallback
}

type camera struct {
	spec      Camera
	handle    vmb.Handle
	features  map[string]*Feature
	announced map[*vmb.FrameDescriptor]struct{}
	queue     []queued

	capturing bool
	acquiring bool
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}

	nextFrameID uint64
	filled      int
	epoch       time.Time

	invalidations map[string]vmb.InvalidationCallback
	file          userFile
}

var _ vmb.Service = (*Service)(nil)

// New creates a fake runtime. A nil Cameras list exposes DefaultCamera; an
// empty one models a system with nothing attached.
func New(opts Options) *Service {
	if opts.Cameras == nil {
		opts.Cameras = []Camera{DefaultCamera()}
	}
	if opts.Version == (vmb.VersionInfo{}) {
		opts.Version = vmb.VersionInfo{Major: 1, Minor: 0, Patch: 4}
	}
	return &Service{
		opts:       opts,
		nextHandle: 0x1000,
		open:       make(map[vmb.Handle]*camera),
		faults:     make(map[string]*fault),
	}
}

// Inject makes op fail with st after skip successful calls, until
// ClearFaults. op is an entry point name ("FrameAnnounce") or a feature
// qualified one ("FeatureEnumSet(AcquisitionMode)").
func (s *Service) Inject(op string, st vmb.Status, skip int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{status: st, skip: skip}
}

// ClearFaults removes every injected failure.
func (s *Service) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// Calls returns the entry points invoked so far, in order.
func (s *Service) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ResetCalls empties the call log.
func (s *Service) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Started reports whether Startup succeeded and Shutdown was not called.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Announced returns the number of descriptors announced on h.
func (s *Service) Announced(h vmb.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.open[h]; ok {
		return len(c.announced)
	}
	return 0
}

// Queued returns the number of descriptors waiting in the fill queue of h.
func (s *Service) Queued(h vmb.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.open[h]; ok {
		return len(c.queue)
	}
	return 0
}

// Filled returns the number of fills since the last CaptureStart on h.
func (s *Service) Filled(h vmb.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.open[h]; ok {
		return c.filled
	}
	return 0
}

// enter records the call and returns an injected status, if any.
// Callers hold s.mu.
func (s *Service) enter(op, name string) vmb.Status {
	key := op
	if name != "" {
		key = op + "(" + name + ")"
	}
	s.calls = append(s.calls, key)

	for _, k := range []string{key, op} {
		f, ok := s.faults[k]
		if !ok {
			continue
		}
		if f.skip > 0 {
			f.skip--
			return vmb.StatusSuccess
		}
		return f.status
	}
	return vmb.StatusSuccess
}

// lookup resolves an open camera. Callers hold s.mu.
func (s *Service) lookup(h vmb.Handle) (*camera, vmb.Status) {
	if !s.started {
		return nil, vmb.StatusApiNotStarted
	}
	c, ok := s.open[h]
	if !ok {
		return nil, vmb.StatusBadHandle
	}
	return c, vmb.StatusSuccess
}

func (s *Service) VersionQuery(info *vmb.VersionInfo) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("VersionQuery", ""); st != vmb.StatusSuccess {
		return st
	}
	*info = s.opts.Version
	return vmb.StatusSuccess
}

func (s *Service) Startup(path string) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("Startup", ""); st != vmb.StatusSuccess {
		return st
	}
	s.started = true
	return vmb.StatusSuccess
}

func (s *Service) Shutdown() {
	s.mu.Lock()
	s.enter("Shutdown", "")
	s.started = false
	cams := make([]*camera, 0, len(s.open))
	for _, c := range s.open {
		cams = append(cams, c)
	}
	clear(s.open)
	s.mu.Unlock()

	for _, c := range cams {
		s.stopEngine(c)
	}
}

func (s *Service) CamerasList(list []vmb.CameraInfo, found *uint32) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("CamerasList", ""); st != vmb.StatusSuccess {
		return st
	}
	if !s.started {
		return vmb.StatusApiNotStarted
	}
	if found == nil {
		return vmb.StatusBadParameter
	}
	*found = uint32(len(s.opts.Cameras))
	n := copyInfos(list, s.opts.Cameras)
	if list != nil && n < len(s.opts.Cameras) {
		return vmb.StatusMoreData
	}
	return vmb.StatusSuccess
}

func copyInfos(dst []vmb.CameraInfo, cams []Camera) int {
	n := min(len(dst), len(cams))
	for i := 0; i < n; i++ {
		dst[i] = cams[i].Info
	}
	return n
}

func (s *Service) CameraOpen(id string, mode vmb.AccessMode, h *vmb.Handle) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("CameraOpen", ""); st != vmb.StatusSuccess {
		return st
	}
	if !s.started {
		return vmb.StatusApiNotStarted
	}
	for _, cam := range s.opts.Cameras {
		if cam.Info.ID != id && cam.Info.ExtendedID != id && cam.Info.Serial != id {
			continue
		}
		for _, c := range s.open {
			if c.spec.Info.ID == cam.Info.ID && mode != vmb.AccessModeRead {
				return vmb.StatusInvalidAccess
			}
		}
		handle := s.nextHandle
		s.nextHandle += 0x10
		s.open[handle] = newCamera(cam, handle, s.opts.Features)
		*h = handle
		return vmb.StatusSuccess
	}
	return vmb.StatusNotFound
}

func newCamera(spec Camera, h vmb.Handle, overrides map[string]Feature) *camera {
	return &camera{
		spec:          spec,
		handle:        h,
		features:      defaultFeatures(spec, overrides),
		announced:     make(map[*vmb.FrameDescriptor]struct{}),
		invalidations: make(map[string]vmb.InvalidationCallback),
		epoch:         time.Now(),
	}
}

func (s *Service) CameraClose(h vmb.Handle) vmb.Status {
	s.mu.Lock()
	if st := s.enter("CameraClose", ""); st != vmb.StatusSuccess {
		s.mu.Unlock()
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		s.mu.Unlock()
		return st
	}
	delete(s.open, h)
	s.mu.Unlock()

	s.stopEngine(c)
	return vmb.StatusSuccess
}

func (s *Service) PayloadSizeGet(h vmb.Handle, size *uint32) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("PayloadSizeGet", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	*size = c.spec.PayloadSize
	return vmb.StatusSuccess
}

func (s *Service) FrameAnnounce(h vmb.Handle, frame *vmb.FrameDescriptor, sizeofFrame uint32) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FrameAnnounce", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if sizeofFrame != vmb.FrameDescriptorSize {
		return vmb.StatusStructSize
	}
	if frame.Buffer == 0 || frame.BufferSize == 0 {
		return vmb.StatusBadParameter
	}
	if _, ok := c.announced[frame]; ok {
		return vmb.StatusAlready
	}
	c.announced[frame] = struct{}{}
	return vmb.StatusSuccess
}

func (s *Service) FrameRevoke(h vmb.Handle, frame *vmb.FrameDescriptor) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FrameRevoke", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if _, ok := c.announced[frame]; !ok {
		return vmb.StatusNotFound
	}
	if c.isQueued(frame) {
		return vmb.StatusBusy
	}
	delete(c.announced, frame)
	return vmb.StatusSuccess
}

func (s *Service) FrameRevokeAll(h vmb.Handle) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("FrameRevokeAll", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if len(c.queue) > 0 {
		slog.Warn("vmbfake: revoking queued frames", "handle", h.String(), "queued", len(c.queue))
		c.queue = nil
	}
	clear(c.announced)
	return vmb.StatusSuccess
}

func (c *camera) isQueued(frame *vmb.FrameDescriptor) bool {
	for _, q := range c.queue {
		if q.frame == frame {
			return true
		}
	}
	return false
}

func (s *Service) CaptureStart(h vmb.Handle) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("CaptureStart", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if c.capturing {
		return vmb.StatusAlready
	}
	c.capturing = true
	c.filled = 0
	c.wake = make(chan struct{}, 1)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go s.run(c, c.wake, c.stop, c.done)
	return vmb.StatusSuccess
}

// CaptureEnd stops the driver goroutine and waits for the callback in
// flight. Calling it from inside a frame callback deadlocks, as it would
// with the real runtime.
func (s *Service) CaptureEnd(h vmb.Handle) vmb.Status {
	s.mu.Lock()
	if st := s.enter("CaptureEnd", ""); st != vmb.StatusSuccess {
		s.mu.Unlock()
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		s.mu.Unlock()
		return st
	}
	if !c.capturing {
		s.mu.Unlock()
		return vmb.StatusAlready
	}
	s.mu.Unlock()

	s.stopEngine(c)
	return vmb.StatusSuccess
}

func (s *Service) stopEngine(c *camera) {
	s.mu.Lock()
	if !c.capturing {
		s.mu.Unlock()
		return
	}
	c.capturing = false
	c.acquiring = false
	stop, done := c.stop, c.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Service) CaptureFrameQueue(h vmb.Handle, frame *vmb.FrameDescriptor, cb vmb.FrameCallback) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("CaptureFrameQueue", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	if _, ok := c.announced[frame]; !ok {
		return vmb.StatusBadParameter
	}
	if !c.capturing {
		return vmb.StatusInvalidCall
	}
	if c.isQueued(frame) {
		return vmb.StatusAlready
	}
	c.queue = append(c.queue, queued{frame: frame, cb: cb})
	c.notify()
	return vmb.StatusSuccess
}

func (s *Service) CaptureQueueFlush(h vmb.Handle) vmb.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.enter("CaptureQueueFlush", ""); st != vmb.StatusSuccess {
		return st
	}
	c, st := s.lookup(h)
	if st != vmb.StatusSuccess {
		return st
	}
	c.queue = nil
	return vmb.StatusSuccess
}

func (c *camera) notify() {
	if c.wake == nil {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (s *Service) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("vmbfake(started=%v, open=%d)", s.started, len(s.open))
}

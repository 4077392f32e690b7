package vmbcapture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/pool"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
)

// System is a started native runtime. There should be one per process.
type System struct {
	rt  *vmb.Runtime
	lib *vmb.Library // nil when the service was injected

	mu      sync.Mutex
	cameras map[vmb.Handle]*Camera
	closed  bool
}

// NewSystem loads the native library and starts the runtime.
//
// Fails fast when the process is not 64-bit, the library or one of its
// entry points is missing, or Startup is rejected.
func NewSystem(cfg SystemConfig) (*System, error) {
	lib, err := vmb.Load(cfg.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("vmb-capture: %w", err)
	}
	s, err := NewSystemWithService(lib, cfg.TransportPaths...)
	if err != nil {
		_ = lib.Close()
		return nil, err
	}
	s.lib = lib
	return s, nil
}

// NewSystemWithService starts the runtime over an already bound service.
// Transport paths are joined with the platform list separator.
func NewSystemWithService(svc vmb.Service, transportPaths ...string) (*System, error) {
	if svc == nil {
		return nil, fmt.Errorf("vmb-capture: nil service: %w", vmb.ErrInvalidArgument)
	}
	rt := vmb.NewRuntime(svc)
	path := strings.Join(transportPaths, string(os.PathListSeparator))
	if err := rt.Startup(path); err != nil {
		return nil, fmt.Errorf("vmb-capture: startup: %w", err)
	}

	s := &System{rt: rt, cameras: make(map[vmb.Handle]*Camera)}
	if v, err := rt.Version(); err == nil {
		slog.Info("vmb-capture: system ready", "version", v.String())
	}
	return s, nil
}

// IsAPIUpAndRunning reports whether the native library at path (platform
// default when empty) can be loaded and answers a version query.
func IsAPIUpAndRunning(path string) bool { return vmb.Probe(path) }

// Version returns the runtime version.
func (s *System) Version() (VersionInfo, error) {
	return s.rt.Version()
}

// Cameras lists the connected cameras.
func (s *System) Cameras() ([]CameraInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	list, err := s.rt.Cameras()
	if err != nil {
		return nil, fmt.Errorf("vmb-capture: list cameras: %w", err)
	}
	return list, nil
}

// FirstCamera returns the first listed camera, ErrNoCamera when none.
func (s *System) FirstCamera() (CameraInfo, error) {
	list, err := s.Cameras()
	if err != nil {
		return CameraInfo{}, err
	}
	if len(list) == 0 {
		return CameraInfo{}, ErrNoCamera
	}
	return list[0], nil
}

// OpenCamera opens the camera with the given id, extended id or serial
// number in full access mode. cfg is validated before anything is opened.
func (s *System) OpenCamera(id string, cfg CameraConfig) (*Camera, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	h, err := s.rt.OpenCamera(id, vmb.AccessModeFull)
	if err != nil {
		return nil, fmt.Errorf("vmb-capture: open camera %q: %w", id, err)
	}

	info := CameraInfo{ID: id}
	if list, err := s.rt.Cameras(); err == nil {
		for _, c := range list {
			if c.ID == id || c.ExtendedID == id || c.Serial == id {
				info = c
				break
			}
		}
	}

	c := newCamera(s, h, info, cfg)
	s.mu.Lock()
	s.cameras[h] = c
	s.mu.Unlock()

	slog.Info("vmb-capture: camera opened",
		"camera_id", info.ID,
		"model", info.Model,
		"serial", info.Serial,
		"handle", h.String(),
	)
	return c, nil
}

// OpenFirstCamera opens the first listed camera.
func (s *System) OpenFirstCamera(cfg CameraConfig) (*Camera, error) {
	info, err := s.FirstCamera()
	if err != nil {
		return nil, err
	}
	return s.OpenCamera(info.ID, cfg)
}

// Shutdown closes every open camera, shuts the runtime down and unloads
// the library. Idempotent.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cams := make([]*Camera, 0, len(s.cameras))
	for _, c := range s.cameras {
		cams = append(cams, c)
	}
	s.mu.Unlock()

	var result *multierror.Error
	for _, c := range cams {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.rt.Shutdown()
	if s.lib != nil {
		if err := s.lib.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	slog.Info("vmb-capture: system shut down", "cameras_closed", len(cams))
	return result.ErrorOrNil()
}

func (s *System) forget(h vmb.Handle) {
	s.mu.Lock()
	delete(s.cameras, h)
	s.mu.Unlock()
}

func (s *System) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (cfg CameraConfig) withDefaults() (CameraConfig, error) {
	if cfg.Frames == 0 {
		cfg.Frames = defaultFrames
	}
	if cfg.OutputBuffer == 0 {
		cfg.OutputBuffer = defaultOutputBuffer
	}

	var errs []error
	if cfg.Frames < pool.MinFrames || cfg.Frames > pool.MaxFrames {
		errs = append(errs, fmt.Errorf("frames %d out of range %d-%d", cfg.Frames, pool.MinFrames, pool.MaxFrames))
	}
	if cfg.OutputBuffer < 0 {
		errs = append(errs, fmt.Errorf("output buffer %d is negative", cfg.OutputBuffer))
	}
	if cfg.ExposureTime < 0 || cfg.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("negative exposure %.2f or frame rate %.2f", cfg.ExposureTime, cfg.FrameRate))
	}
	if !cfg.Trigger.Valid() {
		errs = append(errs, fmt.Errorf("trigger line %q", cfg.Trigger))
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("vmb-capture: invalid camera config: %w: %w", errors.Join(errs...), ErrInvalidArgument)
	}
	return cfg, nil
}

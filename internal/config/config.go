// Package config loads the capture configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/feature"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/pool"
)

// Config represents the complete capture configuration
type Config struct {
	Library LibraryConfig `yaml:"library"`
	Camera  CameraConfig  `yaml:"camera"`
	Capture CaptureConfig `yaml:"capture"`
	Sink    SinkConfig    `yaml:"sink"`
}

// LibraryConfig locates the native runtime and its transport layers
type LibraryConfig struct {
	Path           string   `yaml:"path"`            // empty: platform default (libVmbC.so / VmbC.dll)
	TransportPaths []string `yaml:"transport_paths"` // passed to Startup, empty uses the runtime's search path
}

// CameraConfig selects and configures the device
type CameraConfig struct {
	ID           string  `yaml:"id"`            // camera id, extended id or serial; empty opens the first camera
	ExposureTime float64 `yaml:"exposure_time"` // microseconds, 0 keeps the device value
	FrameRate    float64 `yaml:"frame_rate"`    // fps, 0 keeps the device value
	Trigger      string  `yaml:"trigger"`       // "", Line0, Line1
}

// CaptureConfig sizes the frame pipeline
type CaptureConfig struct {
	Frames         int `yaml:"frames"`            // announced buffers, 3..64 (default: 8)
	OutputBuffer   int `yaml:"output_buffer"`     // frame channel capacity (default: 10)
	WarmupDuration int `yaml:"warmup_duration_s"` // seconds, 0 skips warmup
}

// SinkConfig configures the optional GStreamer sink
type SinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Pipeline string `yaml:"pipeline"` // downstream of appsrc (default: videoconvert ! autovideosink)
}

// Defaults
const (
	DefaultFrames       = 8
	DefaultOutputBuffer = 10
	DefaultSinkPipeline = "videoconvert ! autovideosink"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and validates the result. Unknown keys are rejected,
// an empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Profile returns the pre-acquisition profile described by the camera section.
func (c *Config) Profile() feature.Profile {
	return feature.Profile{
		ExposureTime: c.Camera.ExposureTime,
		FrameRate:    c.Camera.FrameRate,
		Trigger:      feature.TriggerLine(c.Camera.Trigger),
	}
}

// Warmup returns the warmup window, 0 when disabled.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.Capture.WarmupDuration) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.Capture.Frames == 0 {
		cfg.Capture.Frames = DefaultFrames
	}
	if cfg.Capture.OutputBuffer == 0 {
		cfg.Capture.OutputBuffer = DefaultOutputBuffer
	}
	if cfg.Sink.Pipeline == "" {
		cfg.Sink.Pipeline = DefaultSinkPipeline
	}
}

// Validate fills defaults and checks ranges
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	if cfg.Capture.Frames < pool.MinFrames || cfg.Capture.Frames > pool.MaxFrames {
		return fmt.Errorf("capture.frames must be in [%d,%d], got %d", pool.MinFrames, pool.MaxFrames, cfg.Capture.Frames)
	}
	if cfg.Capture.OutputBuffer < 0 {
		return fmt.Errorf("capture.output_buffer must be >= 0")
	}
	if cfg.Capture.WarmupDuration < 0 {
		return fmt.Errorf("capture.warmup_duration_s must be >= 0")
	}
	if cfg.Camera.ExposureTime < 0 {
		return fmt.Errorf("camera.exposure_time must be >= 0")
	}
	if cfg.Camera.FrameRate < 0 {
		return fmt.Errorf("camera.frame_rate must be >= 0")
	}
	if !feature.TriggerLine(cfg.Camera.Trigger).Valid() {
		return fmt.Errorf("camera.trigger must be one of \"\", Line0, Line1, got %q", cfg.Camera.Trigger)
	}
	for i, p := range cfg.Library.TransportPaths {
		if p == "" {
			return fmt.Errorf("library.transport_paths[%d] is empty", i)
		}
	}
	return nil
}

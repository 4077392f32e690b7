// Package gstsink pushes captured frames into a GStreamer pipeline through
// an appsrc element, for live preview or recording.
package gstsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	vmbcapture "github.com/e7canasta/orion-care-sensor/modules/vmb-capture"
)

const srcName = "vmbsrc"

// Config describes the frames and the downstream pipeline.
type Config struct {
	// Pipeline is the launch description after appsrc,
	// e.g. "videoconvert ! autovideosink" or "videoconvert ! x264enc ! mp4mux ! filesink location=out.mp4"
	Pipeline    string
	Width       int
	Height      int
	PixelFormat vmbcapture.PixelFormat
	FrameRate   float64
}

// Stats counts pushed and rejected frames.
type Stats struct {
	Pushed   uint64
	Rejected uint64 // size mismatch or flow error
	Errors   uint64 // pipeline errors seen on the bus
}

// Sink is a running appsrc pipeline.
type Sink struct {
	cfg      Config
	size     int
	pipeline *gst.Pipeline
	src      *app.Source

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	pushed   atomic.Uint64
	rejected atomic.Uint64
	errors   atomic.Uint64
}

// New builds and starts the pipeline "appsrc ! <cfg.Pipeline>".
func New(cfg Config) (*Sink, error) {
	if cfg.Pipeline == "" {
		return nil, fmt.Errorf("gstsink: downstream pipeline is required")
	}
	caps, err := Caps(cfg.PixelFormat, cfg.Width, cfg.Height, cfg.FrameRate)
	if err != nil {
		return nil, err
	}

	gst.Init(nil)

	launch := fmt.Sprintf("appsrc name=%s is-live=true do-timestamp=true format=time ! %s", srcName, cfg.Pipeline)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstsink: failed to create pipeline %q: %w", launch, err)
	}
	elem, err := pipeline.GetElementByName(srcName)
	if err != nil {
		return nil, fmt.Errorf("gstsink: appsrc not found: %w", err)
	}
	src := app.SrcFromElement(elem)
	src.SetCaps(gst.NewCapsFromString(caps))

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("gstsink: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		cfg:      cfg,
		size:     frameSize(cfg.PixelFormat, cfg.Width, cfg.Height),
		pipeline: pipeline,
		src:      src,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.monitor(ctx)

	slog.Info("gstsink: pipeline started", "caps", caps, "pipeline", cfg.Pipeline)
	return s, nil
}

// Push copies f into a GStreamer buffer. Frames whose size or format does
// not match the negotiated caps are rejected.
func (s *Sink) Push(f vmbcapture.Frame) error {
	if f.Width != s.cfg.Width || f.Height != s.cfg.Height || f.PixelFormat != s.cfg.PixelFormat {
		s.rejected.Add(1)
		return fmt.Errorf("gstsink: frame %dx%d %s does not match caps %dx%d %s",
			f.Width, f.Height, f.PixelFormat, s.cfg.Width, s.cfg.Height, s.cfg.PixelFormat)
	}
	if len(f.Data) < s.size {
		s.rejected.Add(1)
		return fmt.Errorf("gstsink: frame %d has %d bytes, want %d", f.ID, len(f.Data), s.size)
	}

	if ret := s.src.PushBuffer(gst.NewBufferFromBytes(f.Data[:s.size])); ret != gst.FlowOK {
		s.rejected.Add(1)
		return fmt.Errorf("gstsink: push frame %d: flow %v", f.ID, ret)
	}
	s.pushed.Add(1)
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Pushed:   s.pushed.Load(),
		Rejected: s.rejected.Load(),
		Errors:   s.errors.Load(),
	}
}

// Close sends end-of-stream, gives the pipeline up to timeout to drain (so
// muxers can finalize files) and tears it down. Idempotent.
func (s *Sink) Close(timeout time.Duration) error {
	var err error
	s.once.Do(func() {
		s.src.EndStream()

		deadline := time.Now().Add(timeout)
		bus := s.pipeline.GetPipelineBus()
		s.cancel()
		s.wg.Wait()
		for time.Now().Before(deadline) {
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg != nil && msg.Type() == gst.MessageEOS {
				break
			}
		}

		if serr := s.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("gstsink: failed to stop pipeline: %w", serr)
		}
		slog.Info("gstsink: pipeline stopped",
			"frames_pushed", s.pushed.Load(),
			"frames_rejected", s.rejected.Load(),
		)
	})
	return err
}

// monitor logs pipeline errors from the bus until ctx is cancelled.
func (s *Sink) monitor(ctx context.Context) {
	defer s.wg.Done()
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			s.errors.Add(1)
			slog.Error("gstsink: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			slog.Warn("gstsink: pipeline warning", "warning", gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstsink: pipeline state changed", "from", old, "to", new)
			}
		}
	}
}

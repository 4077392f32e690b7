package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	vmbcapture "github.com/e7canasta/orion-care-sensor/modules/vmb-capture"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/gstsink"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/fanout"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmb"
	"github.com/e7canasta/orion-care-sensor/modules/vmb-capture/internal/vmbfake"
)

// Version information
const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	libPath := flag.String("lib", "", "Path to libVmbC.so / VmbC.dll (default: loader search path)")
	tlPath := flag.String("tl", "", "Transport layer directory (optional)")
	cameraID := flag.String("camera", "", "Camera id or serial (default: first camera)")
	frames := flag.Int("frames", 0, "Announced frame buffers (3-64)")
	exposure := flag.Float64("exposure", 0, "Exposure time in µs (0 = keep device value)")
	fps := flag.Float64("fps", 0, "Acquisition frame rate (0 = keep device value)")
	trigger := flag.String("trigger", "", "External trigger line: Line0, Line1 (default: free run)")
	outputDir := flag.String("output", "", "Directory to save captured frames as PNG (optional)")
	maxFrames := flag.Int("max-frames", 0, "Maximum frames to capture (0 = unlimited)")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	warmupSecs := flag.Int("warmup", 0, "Warmup duration in seconds (0 = config value)")
	skipWarmup := flag.Bool("skip-warmup", false, "Skip frame cadence warmup")
	gst := flag.Bool("gst", false, "Show frames in a GStreamer pipeline")
	gstPipeline := flag.String("gst-pipeline", "", "GStreamer pipeline after appsrc")
	list := flag.Bool("list", false, "List cameras and exit")
	fake := flag.Bool("fake", false, "Dry run against a simulated camera")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("test-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Flags override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lib":
			cfg.Library.Path = *libPath
		case "tl":
			cfg.Library.TransportPaths = []string{*tlPath}
		case "camera":
			cfg.Camera.ID = *cameraID
		case "frames":
			cfg.Capture.Frames = *frames
		case "exposure":
			cfg.Camera.ExposureTime = *exposure
		case "fps":
			cfg.Camera.FrameRate = *fps
		case "trigger":
			cfg.Camera.Trigger = *trigger
		case "warmup":
			cfg.Capture.WarmupDuration = *warmupSecs
		case "gst":
			cfg.Sink.Enabled = *gst
		case "gst-pipeline":
			cfg.Sink.Pipeline = *gstPipeline
		}
	})
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	warmupDuration := cfg.Warmup()
	if warmupDuration == 0 && !*skipWarmup {
		warmupDuration = 3 * time.Second
	}

	sys, err := openSystem(cfg, *fake)
	if err != nil {
		log.Fatalf("Failed to start Vimba X: %v", err)
	}
	defer func() {
		if err := sys.Shutdown(); err != nil {
			slog.Error("Error shutting down", "error", err)
		}
	}()

	if *list {
		listCameras(sys)
		return
	}

	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	camCfg := vmbcapture.CameraConfig{
		Frames:       cfg.Capture.Frames,
		ExposureTime: cfg.Camera.ExposureTime,
		FrameRate:    cfg.Camera.FrameRate,
		Trigger:      vmbcapture.TriggerLine(cfg.Camera.Trigger),
		OutputBuffer: cfg.Capture.OutputBuffer,
	}
	var cam *vmbcapture.Camera
	if cfg.Camera.ID != "" {
		cam, err = sys.OpenCamera(cfg.Camera.ID, camCfg)
	} else {
		cam, err = sys.OpenFirstCamera(camCfg)
	}
	if err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}

	info := cam.Info()
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║          Vimba X Capture Test - Orion 2.0 Module          ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Camera:        %s (%s, serial %s)\n", info.ID, info.Model, info.Serial)
	fmt.Printf("  Buffers:       %d\n", cfg.Capture.Frames)
	fmt.Printf("  Exposure:      %.1f µs\n", cfg.Camera.ExposureTime)
	fmt.Printf("  Frame Rate:    %.2f fps\n", cfg.Camera.FrameRate)
	if cfg.Camera.Trigger != "" {
		fmt.Printf("  Trigger:       %s\n", cfg.Camera.Trigger)
	} else {
		fmt.Printf("  Trigger:       free run\n")
	}
	if *maxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", *maxFrames)
	} else {
		fmt.Printf("  Max Frames:    unlimited\n")
	}
	fmt.Printf("\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Starting capture...")
	frameChan, err := cam.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start capture: %v", err)
	}

	if !*skipWarmup {
		fmt.Printf("Running warmup (%s) to measure frame cadence...\n", warmupDuration)
		ws, err := cam.Warmup(ctx, warmupDuration)
		switch {
		case errors.Is(err, vmbcapture.ErrUnstable):
			printWarmup(ws)
			fmt.Printf("\n⚠️  WARNING: frame cadence is unstable (high FPS variance or jitter)\n\n")
		case err != nil:
			slog.Error("Warmup failed", "error", err)
		default:
			printWarmup(ws)
		}
	}

	// Fan frames out to independent consumers; a slow one never holds back the others.
	dist := fanout.New[vmbcapture.Frame]()
	if err := dist.Start(ctx); err != nil {
		log.Fatalf("Failed to start distributor: %v", err)
	}
	var consumers sync.WaitGroup
	consume := func(id string, fn func(vmbcapture.Frame)) {
		read := dist.Subscribe(id)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				d, ok := read()
				if !ok {
					return
				}
				fn(d.Value)
			}
		}()
	}

	// The sink is built from the first frame: caps follow what the camera delivers.
	var sink *gstsink.Sink
	if cfg.Sink.Enabled {
		consume("gstsink", func(f vmbcapture.Frame) {
			if sink == nil {
				var err error
				sink, err = gstsink.New(gstsink.Config{
					Pipeline:    cfg.Sink.Pipeline,
					Width:       f.Width,
					Height:      f.Height,
					PixelFormat: f.PixelFormat,
					FrameRate:   cfg.Camera.FrameRate,
				})
				if err != nil {
					slog.Error("Failed to start GStreamer sink, disabling", "error", err)
					dist.Unsubscribe("gstsink")
					return
				}
			}
			if err := sink.Push(f); err != nil {
				slog.Debug("gstsink: frame rejected", "error", err)
			}
		})
	}

	var saveMu sync.Mutex
	framesSaved, saveFailures := 0, 0
	if *outputDir != "" {
		consume("saver", func(f vmbcapture.Frame) {
			err := saveFrame(*outputDir, f)
			saveMu.Lock()
			defer saveMu.Unlock()
			if err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", f.Seq)
				saveFailures++
				return
			}
			framesSaved++
		})
	}

	fmt.Printf("Starting frame capture...\n")
	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	startTime := time.Now()
	statsTicker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				printStats(cam.Stats(), dist.Stats(), time.Since(startTime))
			}
		}
	}()

	frameCount := 0
loop:
	for {
		select {
		case <-sigChan:
			fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			break loop

		case frame, ok := <-frameChan:
			if !ok {
				slog.Warn("Frame channel closed unexpectedly")
				break loop
			}
			frameCount++

			fmt.Printf("[%s] Frame #%-6d | ID: %-8d | %dx%d %s | Size: %6.1f KB | Device ts: %d ns\n",
				frame.ReceivedAt.Format("15:04:05.000"),
				frameCount,
				frame.ID,
				frame.Width, frame.Height, frame.PixelFormat,
				float64(len(frame.Data))/1024,
				frame.Timestamp,
			)
			dist.Publish(frame)

			if *maxFrames > 0 && frameCount >= *maxFrames {
				fmt.Printf("\nReached maximum frames (%d), stopping...\n", *maxFrames)
				break loop
			}
		}
	}

	slog.Info("Stopping capture...")
	if err := cam.Stop(); err != nil {
		slog.Error("Error stopping capture", "error", err)
	}
	_ = dist.Stop()
	consumers.Wait()
	if sink != nil {
		if err := sink.Close(2 * time.Second); err != nil {
			slog.Error("Error closing GStreamer sink", "error", err)
		}
	}

	final := cam.Stats()
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", time.Since(startTime).Round(time.Second))
	fmt.Printf("  Frames Captured:    %d frames\n", final.FrameCount)
	fmt.Printf("  Frames Dropped:     %d frames (%.1f%%)\n", final.FramesDropped, final.DropRate)
	fmt.Printf("  Incomplete:         %d frames\n", final.Incomplete)
	fmt.Printf("  Callback Errors:    %d\n", final.CallbackErrors)
	fmt.Printf("  Bytes Read:         %.2f MB\n", float64(final.BytesRead)/1024/1024)
	if *outputDir != "" {
		fmt.Printf("  Frames Saved:       %d frames (%d failed)\n", framesSaved, saveFailures)
	}
	if sink != nil {
		ss := sink.Stats()
		fmt.Printf("  GStreamer Pushed:   %d frames (%d rejected)\n", ss.Pushed, ss.Rejected)
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")

	slog.Info("Test capture completed successfully")
}

// openSystem starts the real runtime, or a simulated one with -fake.
func openSystem(cfg *config.Config, fake bool) (*vmbcapture.System, error) {
	if !fake {
		return vmbcapture.NewSystem(vmbcapture.SystemConfig{
			LibraryPath:    cfg.Library.Path,
			TransportPaths: cfg.Library.TransportPaths,
		})
	}
	slog.Warn("Dry run: using a simulated camera")
	return vmbcapture.NewSystemWithService(vmbfake.New(vmbfake.Options{
		Cameras:       []vmbfake.Camera{vmbfake.DefaultCamera()},
		FrameInterval: 33 * time.Millisecond,
	}), cfg.Library.TransportPaths...)
}

func listCameras(sys *vmbcapture.System) {
	if v, err := sys.Version(); err == nil {
		fmt.Printf("Vimba X %s\n\n", v)
	}
	cams, err := sys.Cameras()
	if err != nil {
		log.Fatalf("Failed to list cameras: %v", err)
	}
	if len(cams) == 0 {
		fmt.Printf("No cameras found\n")
		return
	}
	for i, c := range cams {
		fmt.Printf("%d. %s\n", i+1, c.ID)
		fmt.Printf("   Model:     %s\n", c.Model)
		fmt.Printf("   Serial:    %s\n", c.Serial)
		fmt.Printf("   Interface: %s\n", c.Interface)
	}
}

func printWarmup(ws *vmbcapture.WarmupStats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warmup Complete\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", ws.FramesReceived)
	fmt.Printf("│ Device Time:        %6.2f seconds\n", ws.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", ws.FPSMean)
	fmt.Printf("│ FPS StdDev:         %6.2f fps\n", ws.FPSStdDev)
	fmt.Printf("│ FPS Range:          %6.1f - %.1f fps\n", ws.FPSMin, ws.FPSMax)
	fmt.Printf("│ Jitter Mean:        %6.3f ms\n", ws.JitterMean*1000)
	fmt.Printf("│ Jitter Max:         %6.3f ms\n", ws.JitterMax*1000)
	fmt.Printf("│ Frame ID Gaps:      %6d\n", ws.Dropped)
	fmt.Printf("│ Stable:             %6v\n", ws.IsStable)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

func printStats(st vmbcapture.CaptureStats, ds fanout.Stats, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Capture Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Captured:    %6d frames\n", st.FrameCount)
	if st.FramesDropped > 0 {
		fmt.Printf("│ Channel Drops:      %6d frames (%.1f%%)\n", st.FramesDropped, st.DropRate)
	}
	fmt.Printf("│ Incomplete:         %6d frames\n", st.Incomplete)
	fmt.Printf("│ Real FPS:           %6.2f fps\n", st.FPSReal)
	fmt.Printf("│ Latency:            %6d ms\n", st.LatencyMS)
	fmt.Printf("│ Buffers:            %6d / %d with driver\n", st.Outstanding, st.Buffers)
	fmt.Printf("│ Bytes Read:         %6.2f MB\n", float64(st.BytesRead)/1024/1024)
	if st.CallbackErrors+st.RequeueFailures > 0 {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Callback Errors:    %6d\n", st.CallbackErrors)
		fmt.Printf("│ Requeue Failures:   %6d\n", st.RequeueFailures)
	}
	for id, c := range ds.Consumers {
		fmt.Printf("│ Consumer %-10s %6d drops (idle %v)\n", id+":", c.TotalDrops, c.IsIdle)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

// saveFrame writes mono and RGB frames as PNG. Other formats are skipped.
func saveFrame(outputDir string, frame vmbcapture.Frame) error {
	rect := image.Rect(0, 0, frame.Width, frame.Height)
	var img image.Image
	switch frame.PixelFormat {
	case vmb.PixelFormatMono8:
		img = &image.Gray{Pix: frame.Data[:frame.Width*frame.Height], Stride: frame.Width, Rect: rect}
	case vmb.PixelFormatRgb8:
		rgba := image.NewRGBA(rect)
		for i := 0; i < frame.Width*frame.Height; i++ {
			copy(rgba.Pix[i*4:i*4+3], frame.Data[i*3:i*3+3])
			rgba.Pix[i*4+3] = 255
		}
		img = rgba
	default:
		return fmt.Errorf("unsupported pixel format for PNG: %s", frame.PixelFormat)
	}

	filename := fmt.Sprintf("frame_%06d_%d.png", frame.ID, frame.Timestamp)
	file, err := os.Create(filepath.Join(outputDir, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

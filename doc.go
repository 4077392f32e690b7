// Package vmbcapture provides machine-vision camera acquisition on top of
// the Vimba X runtime (VmbC), loaded at run time without cgo.
//
// It owns the frame-buffer lifecycle of an asynchronous capture: a pool of
// 64-byte aligned buffers outside the Go heap is announced to the driver,
// queued, re-queued from the completion callback and revoked before it is
// freed. Each capture is a session that moves through Idle, Announced,
// Streaming and Draining.
//
// # Quick Start
//
//	sys, err := vmbcapture.NewSystem(vmbcapture.SystemConfig{
//	    TransportPaths: []string{"/opt/VimbaX/cti"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Shutdown()
//
//	cam, err := sys.OpenFirstCamera(vmbcapture.CameraConfig{
//	    Frames:       16,
//	    ExposureTime: 5000, // µs
//	    FrameRate:    30,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	frames, err := cam.Start(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cam.Stop()
//
//	// Recommended: measure cadence before processing
//	stats, err := cam.Warmup(ctx, 3*time.Second)
//
//	for f := range frames {
//	    // f.Data is a private copy, f.PixelFormat describes it
//	    process(f)
//	}
//
// # Frames
//
// Start copies every complete frame out of the driver buffer and sends it
// without blocking; when the consumer falls behind the frame is dropped and
// counted in CaptureStats.FramesDropped. The driver buffer is re-queued
// immediately, so a slow consumer never starves the camera.
//
// StartWithHandler skips the copy: the handler runs on the driver thread
// with the driver buffer and must not keep it after returning. Errors and
// panics in the handler are contained and counted.
//
// # Requirements
//
//   - 64-bit process
//   - Vimba X runtime (libVmbC.so / VmbC.dll) and at least one transport layer
package vmbcapture

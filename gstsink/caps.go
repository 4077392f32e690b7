package gstsink

import (
	"errors"
	"fmt"

	vmbcapture "github.com/e7canasta/orion-care-sensor/modules/vmb-capture"
)

// ErrUnsupportedFormat is returned for pixel formats GStreamer has no raw
// caps for (packed 10/12-bit mono, 16-bit RGB).
var ErrUnsupportedFormat = errors.New("gstsink: unsupported pixel format")

var rawFormats = map[vmbcapture.PixelFormat]string{
	vmbcapture.PixelFormatMono8:  "GRAY8",
	vmbcapture.PixelFormatMono16: "GRAY16_LE",
	vmbcapture.PixelFormatRgb8:   "RGB",
	vmbcapture.PixelFormatBgr8:   "BGR",
	vmbcapture.PixelFormatRgba8:  "RGBA",
	vmbcapture.PixelFormatBgra8:  "BGRA",
	vmbcapture.PixelFormatYuv422: "UYVY",
}

var bayerFormats = map[vmbcapture.PixelFormat]string{
	vmbcapture.PixelFormatBayerGR8: "grbg",
	vmbcapture.PixelFormatBayerRG8: "rggb",
	vmbcapture.PixelFormatBayerGB8: "gbrg",
	vmbcapture.PixelFormatBayerBG8: "bggr",
}

// Caps builds the appsrc caps for frames of the given format and size.
// A zero fps advertises a variable frame rate.
func Caps(pf vmbcapture.PixelFormat, width, height int, fps float64) (string, error) {
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("gstsink: invalid size %dx%d", width, height)
	}
	rate := "0/1"
	if fps > 0 {
		rate = fmt.Sprintf("%d/1000", int(fps*1000+0.5))
	}

	if f, ok := rawFormats[pf]; ok {
		return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%s", f, width, height, rate), nil
	}
	if f, ok := bayerFormats[pf]; ok {
		return fmt.Sprintf("video/x-bayer,format=%s,width=%d,height=%d,framerate=%s", f, width, height, rate), nil
	}
	return "", fmt.Errorf("gstsink: %s: %w", pf, ErrUnsupportedFormat)
}

// frameSize is the number of image bytes of a width x height frame; the
// driver buffer may be larger (chunk data, padding).
func frameSize(pf vmbcapture.PixelFormat, width, height int) int {
	return width * height * pf.BitsPerPixel() / 8
}

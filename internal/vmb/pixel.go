package vmb

import "fmt"

// PixelFormat is a PFNC pixel format code as reported in a filled frame.
type PixelFormat uint32

const (
	pixelMono  = 0x01000000
	pixelColor = 0x02000000

	occupy8Bit  = 0x00080000
	occupy10Bit = 0x000A0000
	occupy12Bit = 0x000C0000
	occupy16Bit = 0x00100000
	occupy24Bit = 0x00180000
	occupy32Bit = 0x00200000
	occupy48Bit = 0x00300000
)

const (
	PixelFormatMono8        PixelFormat = pixelMono | occupy8Bit | 0x0001
	PixelFormatMono10       PixelFormat = pixelMono | occupy16Bit | 0x0003
	PixelFormatMono10p      PixelFormat = pixelMono | occupy10Bit | 0x0046
	PixelFormatMono12       PixelFormat = pixelMono | occupy16Bit | 0x0005
	PixelFormatMono12Packed PixelFormat = pixelMono | occupy12Bit | 0x0006
	PixelFormatMono12p      PixelFormat = pixelMono | occupy12Bit | 0x0047
	PixelFormatMono14       PixelFormat = pixelMono | occupy16Bit | 0x0025
	PixelFormatMono16       PixelFormat = pixelMono | occupy16Bit | 0x0007

	PixelFormatBayerGR8 PixelFormat = pixelMono | occupy8Bit | 0x0008
	PixelFormatBayerRG8 PixelFormat = pixelMono | occupy8Bit | 0x0009
	PixelFormatBayerGB8 PixelFormat = pixelMono | occupy8Bit | 0x000A
	PixelFormatBayerBG8 PixelFormat = pixelMono | occupy8Bit | 0x000B

	PixelFormatRgb8   PixelFormat = pixelColor | occupy24Bit | 0x0014
	PixelFormatBgr8   PixelFormat = pixelColor | occupy24Bit | 0x0015
	PixelFormatRgba8  PixelFormat = pixelColor | occupy32Bit | 0x0016
	PixelFormatBgra8  PixelFormat = pixelColor | occupy32Bit | 0x0017
	PixelFormatRgb16  PixelFormat = pixelColor | occupy48Bit | 0x0033
	PixelFormatYuv422 PixelFormat = pixelColor | occupy16Bit | 0x0032
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatMono8:        "Mono8",
	PixelFormatMono10:       "Mono10",
	PixelFormatMono10p:      "Mono10p",
	PixelFormatMono12:       "Mono12",
	PixelFormatMono12Packed: "Mono12Packed",
	PixelFormatMono12p:      "Mono12p",
	PixelFormatMono14:       "Mono14",
	PixelFormatMono16:       "Mono16",
	PixelFormatBayerGR8:     "BayerGR8",
	PixelFormatBayerRG8:     "BayerRG8",
	PixelFormatBayerGB8:     "BayerGB8",
	PixelFormatBayerBG8:     "BayerBG8",
	PixelFormatRgb8:         "RGB8",
	PixelFormatBgr8:         "BGR8",
	PixelFormatRgba8:        "RGBa8",
	PixelFormatBgra8:        "BGRa8",
	PixelFormatRgb16:        "RGB16",
	PixelFormatYuv422:       "YUV422_8_UYVY",
}

func (p PixelFormat) String() string {
	if name, ok := pixelFormatNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(0x%08X)", uint32(p))
}

// Mono reports whether the format carries no color information.
func (p PixelFormat) Mono() bool { return p&pixelMono != 0 }

// BitsPerPixel is the effective storage size of one pixel.
func (p PixelFormat) BitsPerPixel() int { return int(p>>16) & 0xFF }

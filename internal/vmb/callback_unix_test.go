//go:build !windows

package vmb

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// nativePage maps memory outside the Go heap, like the runtime's own strings
// and descriptors.
func nativePage(t *testing.T) []byte {
	t.Helper()
	b, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Munmap(b) })
	return b
}

func TestGoString(t *testing.T) {
	page := nativePage(t)
	copy(page, "DEV_1AB22C00C3A1\x00")

	assert.Equal(t, "DEV_1AB22C00C3A1", goString(uintptr(unsafe.Pointer(&page[0]))))
	assert.Equal(t, "", goString(0))
}

func TestTrampolines_ContainPanics(t *testing.T) {
	page := nativePage(t)
	d := (*FrameDescriptor)(unsafe.Pointer(&page[0]))
	copy(page[256:], "DeviceTemperature\x00")
	name := uintptr(unsafe.Pointer(&page[256]))
	const h = Handle(0x51)

	t.Run("Frame", func(t *testing.T) {
		calls := 0
		frameRoutes.Store(uintptr(unsafe.Pointer(d)), frameRoute{handle: h, cb: func(camera, stream Handle, frame *FrameDescriptor) {
			calls++
			panic("handler bug")
		}})
		defer dropFrameRoute(d)

		assert.NotPanics(t, func() {
			assert.Zero(t, onFrame(uintptr(h), 0, uintptr(unsafe.Pointer(d))))
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("Invalidation", func(t *testing.T) {
		var got string
		invalidationRoutes.Store(invalidationKey{handle: h, name: "DeviceTemperature"}, InvalidationCallback(func(_ Handle, n string) {
			got = n
			panic("watcher bug")
		}))
		defer dropInvalidationRoute(h, "DeviceTemperature")

		assert.NotPanics(t, func() {
			assert.Zero(t, onInvalidation(uintptr(h), name, 0))
		})
		assert.Equal(t, "DeviceTemperature", got)
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		assert.Zero(t, onFrame(uintptr(h), 0, uintptr(unsafe.Pointer(d))))
	})
}

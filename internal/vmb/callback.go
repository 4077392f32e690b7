package vmb

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// The native runtime takes plain function pointers with no user context on
// the frame path, so a single trampoline per callback kind is created once
// and routes each call to the Go callback registered for it.
//
// Trampolines only take and return uintptr words so they are valid for both
// purego.NewCallback and the Windows syscall callback ABI.

type frameRoute struct {
	handle Handle
	cb     FrameCallback
}

type invalidationKey struct {
	handle Handle
	name   string
}

var (
	frameRoutes        sync.Map // descriptor address -> frameRoute
	invalidationRoutes sync.Map // invalidationKey -> InvalidationCallback

	frameOnce   sync.Once
	frameFnPtr  uintptr
	invalidOnce sync.Once
	invalidPtr  uintptr
)

func frameTrampoline() uintptr {
	frameOnce.Do(func() {
		frameFnPtr = purego.NewCallback(onFrame)
	})
	return frameFnPtr
}

func invalidationTrampoline() uintptr {
	invalidOnce.Do(func() {
		invalidPtr = purego.NewCallback(onInvalidation)
	})
	return invalidPtr
}

// guard keeps a panic from unwinding through the native caller's frames.
func guard(op string) {
	if r := recover(); r != nil {
		slog.Error("vmb: panic in native callback", "op", op, "panic", r, "kind", ErrUserCallback.Kind())
	}
}

func onFrame(camera, stream, frame uintptr) uintptr {
	defer guard("frame")
	v, ok := frameRoutes.Load(frame)
	if !ok {
		return 0
	}
	r := v.(frameRoute)
	r.cb(Handle(camera), Handle(stream), (*FrameDescriptor)(unsafe.Pointer(frame)))
	return 0
}

func onInvalidation(handle, name, _ uintptr) uintptr {
	defer guard("invalidation")
	key := invalidationKey{handle: Handle(handle), name: goString(name)}
	if v, ok := invalidationRoutes.Load(key); ok {
		v.(InvalidationCallback)(key.handle, key.name)
	}
	return 0
}

func routeFrame(h Handle, frame *FrameDescriptor, cb FrameCallback) uintptr {
	frameRoutes.Store(uintptr(unsafe.Pointer(frame)), frameRoute{handle: h, cb: cb})
	return frameTrampoline()
}

func dropFrameRoute(frame *FrameDescriptor) {
	frameRoutes.Delete(uintptr(unsafe.Pointer(frame)))
}

func dropFrameRoutes(h Handle) {
	frameRoutes.Range(func(k, v any) bool {
		if v.(frameRoute).handle == h {
			frameRoutes.Delete(k)
		}
		return true
	})
}

func routeInvalidation(h Handle, name string, cb InvalidationCallback) uintptr {
	invalidationRoutes.Store(invalidationKey{handle: h, name: name}, cb)
	return invalidationTrampoline()
}

func dropInvalidationRoute(h Handle, name string) {
	invalidationRoutes.Delete(invalidationKey{handle: h, name: name})
}

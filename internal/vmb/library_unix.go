//go:build !windows

package vmb

import "github.com/ebitengine/purego"

// DefaultLibraryName is resolved through the dynamic loader search path
// (LD_LIBRARY_PATH, or the VimbaX api/lib directory registered with ldconfig).
const DefaultLibraryName = "libVmbC.so"

// startupFunc takes the transport layer search path as a narrow C string.
type startupFunc func(path *byte) Status

func openLibrary(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func closeLibrary(handle uintptr) error {
	return purego.Dlclose(handle)
}

// Startup initializes the runtime. An empty path lets the runtime use the
// transport layers from its own configuration.
func (l *Library) Startup(path string) Status {
	if path == "" {
		return l.startup(nil)
	}
	b := append([]byte(path), 0)
	return l.startup(&b[0])
}

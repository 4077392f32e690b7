//go:build windows

package vmb

import "golang.org/x/sys/windows"

const DefaultLibraryName = "VmbC.dll"

// startupFunc takes the transport layer search path as a wide string
// (VmbFilePathChar_t is wchar_t on Windows).
type startupFunc func(path *uint16) Status

func openLibrary(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	return uintptr(h), err
}

func closeLibrary(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}

func (l *Library) Startup(path string) Status {
	if path == "" {
		return l.startup(nil)
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return StatusBadParameter
	}
	return l.startup(p)
}

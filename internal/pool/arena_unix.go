//go:build !windows

package pool

import "golang.org/x/sys/unix"

// mapArena returns size bytes of zeroed, page-aligned anonymous memory.
// The Go runtime neither moves nor scans it, so the driver may hold on to
// pointers into it for as long as it is mapped.
func mapArena(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapArena(mem []byte) error {
	return unix.Munmap(mem)
}

//go:build linux
// +build linux

package shm

import "unsafe"

// unsafePointer reinterprets the start of a byte slice as a generic
// pointer so the 64-bit counter at the front of the mapping can be
// addressed with sync/atomic. The slice backing a Region is a raw
// mmap, never moved or resized by the Go runtime, so this pointer
// stays valid for the Region's lifetime.
func unsafePointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

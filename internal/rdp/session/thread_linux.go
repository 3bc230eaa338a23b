//go:build linux

package session

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setThreadName names the calling OS thread; the kernel keeps 15 bytes.
func setThreadName(name string) {
	b := make([]byte, 16)
	copy(b[:15], name)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}

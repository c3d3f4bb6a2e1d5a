//go:build linux

package shmframe

import (
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (non-private) futex operations: the word lives in a MAP_SHARED
// mapping and is keyed by inode and offset, so it works across processes.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait sleeps while *addr == val, for at most timeout. It returns nil on
// wake-up, value change, signal or timeout; callers always re-check state.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
		return nil
	default:
		return errno
	}
}

// futexWakeAll wakes every waiter on addr.
func futexWakeAll(addr *uint32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(math.MaxInt32),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

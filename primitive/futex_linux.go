//go:build linux

package primitive

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// The private futex flag must not be used here. All waiters and wakers may
// live in different processes sharing the cell through a MAP_SHARED mapping.

// Linux futex(2) operation codes, not exported by golang.org/x/sys/unix.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait blocks until the value at addr differs from expected, the cell
// is woken, or the call is interrupted. Spurious returns are allowed, the
// caller must re-check its condition.
func futexWait(addr *uint32, expected uint32) error {
	if atomic.LoadUint32(addr) != expected {
		return nil
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(expected),
		0, 0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	default:
		return errors.Wrap(errno, "futex wait failed")
	}
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n uint32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return errors.Wrap(errno, "futex wake failed")
	}
	return nil
}

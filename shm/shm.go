package shm

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/shadowcpy/hashtable/types"
)

// Package shm manages named shared memory regions under /dev/shm. A region
// is created by the server, sized once with ftruncate and mapped MAP_SHARED
// by every participant. Readiness is published by storing the magic value
// as the very last step of initialization.

const shmDir = "/dev/shm"

// ErrNotReady is returned when the region's magic does not match within the
// attach timeout.
var ErrNotReady = errors.New("shared region not ready")

// Region is a mapped named shared memory region.
type Region struct {
	name string
	mem  []byte
}

// Path translates a POSIX shared memory name like /hashtable_req into its
// backing file path.
func Path(name string) string {
	return filepath.Join(shmDir, strings.TrimPrefix(name, "/"))
}

// Create creates a named region of the given size and maps it read/write.
// The backing file is created exclusively, so a stale region of the same
// name must be unlinked first. The mapped memory is zeroed.
func Create(name string, size uint64) (*Region, error) {
	f, err := os.OpenFile(Path(name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "creating shared region %s failed", name)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(Path(name))
		return nil, errors.Wrapf(err, "sizing shared region %s failed", name)
	}

	mem, err := mapFile(f, size)
	if err != nil {
		_ = os.Remove(Path(name))
		return nil, err
	}

	return &Region{name: name, mem: mem}, nil
}

// Attach opens an existing named region and maps it read/write. It fails if
// the region does not exist or is smaller than the expected size; magic
// verification is the caller's job via WaitReady.
func Attach(name string, size uint64) (*Region, error) {
	f, err := os.OpenFile(Path(name), os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening shared region %s failed", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if uint64(info.Size()) < size {
		return nil, errors.Errorf("shared region %s too small: %d < %d bytes",
			name, info.Size(), size)
	}

	mem, err := mapFile(f, size)
	if err != nil {
		return nil, err
	}

	return &Region{name: name, mem: mem}, nil
}

// Unlink removes the region name. Existing mappings stay valid until they
// are closed. Missing names are not an error.
func Unlink(name string) error {
	if err := os.Remove(Path(name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unlinking shared region %s failed", name)
	}
	return nil
}

// Bytes returns the mapped memory.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Name returns the region name.
func (r *Region) Name() string {
	return r.name
}

// Close unmaps the region.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil
	return errors.Wrapf(unix.Munmap(mem), "unmapping shared region %s failed", r.name)
}

// Publish stores the magic value with release ordering, marking the region
// initialized for attaching processes.
func Publish(magic *uint32) {
	atomic.StoreUint32(magic, types.MagicValue)
}

// Ready reports whether the magic value has been published.
func Ready(magic *uint32) bool {
	return atomic.LoadUint32(magic) == types.MagicValue
}

// WaitReady polls the magic value with backoff until it matches or the
// timeout expires.
func WaitReady(magic *uint32, timeout time.Duration) error {
	const backoff = 10 * time.Millisecond

	deadline := time.Now().Add(timeout)
	for {
		if Ready(magic) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.WithStack(ErrNotReady)
		}
		time.Sleep(backoff)
	}
}

func mapFile(f *os.File, size uint64) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping shared region %s failed", f.Name())
	}
	return mem, nil
}

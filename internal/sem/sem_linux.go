//go:build linux && (amd64 || arm64)

package sem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"gosuda.org/tpuipc/internal/shm"
)

// Semaphore object layout (identical to a glibc named semaphore on 64-bit
// little-endian hosts, so C processes using sem_open can share it):
//
// <<<< OFFSET 0
// DATA (uint64)      // bits 0-31: value (futex word), bits 32-63: waiter count
// <<<< OFFSET 8
// PRIVATE (int32)    // always 0: process-shared
// <<<< OFFSET 12
// PADDING            // up to sizeof(sem_t)
// <<<< OFFSET 32
const (
	semSize       = 32
	nwaitersShift = 32
	nwaitersOne   = uint64(1) << nwaitersShift
)

const objectMode = 0o666

// maxOpenAttempts bounds the open/create loop when another process unlinks
// the name between our create and open.
const maxOpenAttempts = 8

// Semaphore is a named counting semaphore backed by a shared mapping.
type Semaphore struct {
	name string
	mem  []byte
	data *uint64
}

// Path returns the filesystem path backing the named semaphore.
func Path(name string) string {
	return filepath.Join(shm.Dir, "sem."+objectName(name))
}

// OpenOrCreate attaches to the named semaphore, creating it with the given
// initial value when it does not exist. An existing semaphore keeps its value.
func OpenOrCreate(name string, initial uint32) (*Semaphore, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid semaphore name %q", name)
	}
	if initial > semValueMax {
		return nil, ErrOverflow
	}

	path := Path(name)
	for attempt := 0; ; attempt++ {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == nil {
			return mapSemaphore(name, fd)
		}
		if !errors.Is(err, unix.ENOENT) || attempt >= maxOpenAttempts {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		if err := create(path, initial); err != nil && !errors.Is(err, unix.EEXIST) {
			return nil, err
		}
	}
}

// create publishes a fully initialised semaphore under path. The object is
// written to a temporary file first and then linked into place, so a
// concurrent opener never sees a partially written value.
func create(path string, initial uint32) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "sem.*")
	if err != nil {
		return fmt.Errorf("failed to create semaphore: %w", err)
	}
	defer os.Remove(tmp.Name())

	var buf [semSize]byte
	binary.NativeEndian.PutUint64(buf[:8], uint64(initial))
	if _, err := tmp.Write(buf[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to initialise semaphore: %w", err)
	}
	if err := tmp.Chmod(objectMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod semaphore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to initialise semaphore: %w", err)
	}

	if err := unix.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return err
		}
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}

func mapSemaphore(name string, fd int) (*Semaphore, error) {
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", Path(name), err)
	}
	if st.Size < semSize {
		return nil, fmt.Errorf("semaphore %s too small: %d bytes", Path(name), st.Size)
	}

	mem, err := unix.Mmap(fd, 0, semSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %s: %w", Path(name), err)
	}

	return &Semaphore{
		name: name,
		mem:  mem,
		data: (*uint64)(unsafe.Pointer(&mem[0])),
	}, nil
}

// Name returns the name the semaphore was opened with.
func (s *Semaphore) Name() string {
	return s.name
}

// value returns the futex word: the low half of DATA on little-endian hosts.
func (s *Semaphore) value() *uint32 {
	return (*uint32)(unsafe.Pointer(s.data))
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	if s.mem == nil {
		return 0
	}
	return uint32(atomic.LoadUint64(s.data))
}

// Signal increments the count and wakes one waiter if there is any.
func (s *Semaphore) Signal() error {
	if s.mem == nil {
		return ErrClosed
	}
	for {
		d := atomic.LoadUint64(s.data)
		if uint32(d) >= semValueMax {
			return ErrOverflow
		}
		if atomic.CompareAndSwapUint64(s.data, d, d+1) {
			if d>>nwaitersShift > 0 {
				if _, err := futexWake(s.value(), 1); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

// TryWait decrements the count if it is positive and reports whether it did.
func (s *Semaphore) TryWait() bool {
	if s.mem == nil {
		return false
	}
	for {
		d := atomic.LoadUint64(s.data)
		if uint32(d) == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(s.data, d, d-1) {
			return true
		}
	}
}

// Wait blocks until the count is positive, then decrements it.
func (s *Semaphore) Wait() error {
	if s.mem == nil {
		return ErrClosed
	}
	if s.TryWait() {
		return nil
	}

	// Register as a waiter so Signal knows to issue a wake. The registration
	// is dropped in the same CAS that takes the token.
	atomic.AddUint64(s.data, nwaitersOne)
	for {
		d := atomic.LoadUint64(s.data)
		if uint32(d) == 0 {
			if err := futexWait(s.value(), 0); err != nil {
				atomic.AddUint64(s.data, ^(nwaitersOne - 1))
				return err
			}
			continue
		}
		if atomic.CompareAndSwapUint64(s.data, d, d-1-nwaitersOne) {
			return nil
		}
	}
}

// Close unmaps the semaphore. The name stays in place.
func (s *Semaphore) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	s.data = nil
	if err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}

// Unlink removes the named semaphore. A missing name is not an error.
func Unlink(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid semaphore name %q", name)
	}
	if err := unix.Unlink(Path(name)); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("failed to unlink %s: %w", Path(name), err)
	}
	return nil
}

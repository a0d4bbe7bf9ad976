//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// objectMode is the permission of created objects. No access control is
// applied between processes; the channel is meant for a trusted host.
const objectMode = 0o666

// maxOpenAttempts bounds the open/create loop when another process unlinks
// the name between our publish and open.
const maxOpenAttempts = 8

// CreateOrOpen creates the named region with exactly size bytes, or attaches
// to it when it already exists. A created region is zero-filled; an opened one
// keeps its contents and must already be exactly size bytes long, otherwise
// ErrSizeMismatch is returned and the existing object is left untouched.
//
// A created region is sized and published under its name in one step, so an
// opener never observes it before it is zero-filled.
func CreateOrOpen(name string, size int) (*Region, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid shared memory name %q", name)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid shared memory size %d", size)
	}

	path := Path(name)
	for attempt := 0; ; attempt++ {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == nil {
			return attach(name, fd, size)
		}
		if !errors.Is(err, unix.ENOENT) || attempt >= maxOpenAttempts {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}

		r, err := create(name, size)
		if errors.Is(err, unix.EEXIST) {
			continue
		}
		return r, err
	}
}

// create builds a zero-filled object of size bytes under a temporary name and
// links it into place. It returns an error wrapping EEXIST when another
// process published the name first.
func create(name string, size int) (*Region, error) {
	path := Path(name)
	tmp, err := os.CreateTemp(Dir, "tpuipc.*")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	fd, err := unix.Dup(int(tmp.Fd()))
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	unix.CloseOnExec(fd)

	// The umask must not narrow the documented mode.
	if err := unix.Fchmod(fd, objectMode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to resize %s to %d bytes: %w", path, size, err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	if err := unix.Link(tmp.Name(), path); err != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		if errors.Is(err, unix.EEXIST) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to publish %s: %w", path, err)
	}

	return &Region{
		name:    name,
		size:    size,
		fd:      uintptr(fd),
		mem:     mem,
		created: true,
	}, nil
}

func attach(name string, fd int, size int) (*Region, error) {
	path := Path(name)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.Size != int64(size) {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, st.Size, size)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	return &Region{
		name:    name,
		size:    size,
		fd:      uintptr(fd),
		mem:     mem,
		created: false,
	}, nil
}

// Close unmaps the region and closes its descriptor. The name stays in place.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(r.mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap failed: %w", err))
	}
	if err := unix.Close(int(r.fd)); err != nil {
		errs = append(errs, fmt.Errorf("close failed: %w", err))
	}
	r.mem = nil
	return errors.Join(errs...)
}

// Unlink removes the name from the system. Processes that still map the
// region keep their mapping. A missing name is not an error.
func Unlink(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid shared memory name %q", name)
	}
	if err := unix.Unlink(Path(name)); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("failed to unlink %s: %w", Path(name), err)
	}
	return nil
}

// Exists reports whether the named region is present.
func Exists(name string) bool {
	var st unix.Stat_t
	return unix.Stat(Path(name), &st) == nil
}

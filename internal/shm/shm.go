package shm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Dir is the directory backing named shared memory objects.
// It mirrors where shm_open places its objects on Linux.
var Dir = defaultDir()

// ErrSizeMismatch is returned when an existing region does not have the
// requested size.
var ErrSizeMismatch = errors.New("shm: size mismatch")

func defaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Region is a named block of memory mapped into this process and shared with
// every other process that maps the same name.
type Region struct {
	name    string  // POSIX-style object name, e.g. "/my_shared_memory0"
	size    int     // mapped length in bytes
	fd      uintptr // descriptor of the backing object
	mem     []byte  // MAP_SHARED mapping, nil after Close
	created bool    // true when this handle created the object
}

// Name returns the object name the region was opened with.
func (r *Region) Name() string {
	return r.name
}

// Size returns the mapped length in bytes.
func (r *Region) Size() int {
	return r.size
}

// FD returns the descriptor of the backing object.
func (r *Region) FD() uintptr {
	return r.fd
}

// Created reports whether this handle created the object (and zero-filled it)
// rather than attaching to an existing one.
func (r *Region) Created() bool {
	return r.created
}

// Bytes returns the mapping. It is nil once the region has been closed.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Path returns the filesystem path backing the named object.
func Path(name string) string {
	return filepath.Join(Dir, objectName(name))
}

// objectName turns a POSIX object name ("/foo") into a file name ("foo").
func objectName(name string) string {
	return strings.TrimLeft(name, "/")
}

func validName(name string) bool {
	n := objectName(name)
	return n != "" && !strings.ContainsRune(n, '/')
}

//go:build !unix

package shm

import (
	"errors"
	"os"
)

// ErrUnsupported is returned on platforms without POSIX shared memory.
var ErrUnsupported = errors.New("shm: shared memory not supported on this platform")

// CreateOrOpen is not supported on this platform.
func CreateOrOpen(name string, size int) (*Region, error) {
	return nil, ErrUnsupported
}

// Close is not supported on this platform.
func (r *Region) Close() error {
	return ErrUnsupported
}

// Unlink is not supported on this platform.
func Unlink(name string) error {
	return ErrUnsupported
}

// Exists reports whether the named region is present.
func Exists(name string) bool {
	_, err := os.Stat(Path(name))
	return err == nil
}

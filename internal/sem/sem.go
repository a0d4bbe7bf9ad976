// Package sem provides named counting semaphores shared between processes.
//
// A Semaphore supports a blocking decrement (Wait) and an increment that wakes
// at most one blocked waiter (Signal). Neither operation has a timeout. When
// several goroutines or processes wait on the same semaphore the wake order
// is unspecified.
package sem

import (
	"errors"
	"strings"
)

// semValueMax matches SEM_VALUE_MAX on Linux.
const semValueMax = 1<<31 - 1

var (
	// ErrOverflow is returned when a value would exceed SEM_VALUE_MAX.
	ErrOverflow = errors.New("sem: value overflow")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("sem: semaphore closed")
)

func objectName(name string) string {
	return strings.TrimLeft(name, "/")
}

func validName(name string) bool {
	n := objectName(name)
	return n != "" && !strings.ContainsRune(n, '/')
}

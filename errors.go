package tpuipc

import (
	"errors"
	"fmt"
)

// Error definitions for channel and server operations
var (
	ErrInvalidConfig = errors.New("tpuipc: invalid configuration")
	ErrSizeMismatch  = errors.New("tpuipc: engine input size does not match payload size")
	ErrPayloadSize   = errors.New("tpuipc: payload size mismatch")
	ErrRecordSize    = errors.New("tpuipc: existing region has a different record size")
	ErrServerClosed  = errors.New("tpuipc: server closed")
	ErrClosed        = errors.New("tpuipc: channel closed")
)

// ResourceError reports a failure to create, open, size or map one of the
// named objects of a channel. It is fatal at startup.
type ResourceError struct {
	Op   string // "open", "wait", "signal", "close" or "unlink"
	Name string // name of the shared region or semaphore
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("tpuipc: %s %s: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// EngineError reports an inference failure inside the server loop. The
// producer waiting on the response is never woken after one.
type EngineError struct {
	Cycle uint64 // 1-based cycle in which inference failed
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("tpuipc: inference failed in cycle %d: %v", e.Cycle, e.Err)
}

// Unwrap returns the adapter error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

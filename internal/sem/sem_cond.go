//go:build !linux || !(amd64 || arm64)

package sem

import (
	"fmt"
	"sync"
)

// On platforms without a shared futex the semaphore is a mutex-guarded
// counter with a condition variable. Names are resolved in a process-local
// registry, so both ends must live in the same process.

type counter struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    uint32
}

var (
	registryMu sync.Mutex
	registry   = map[string]*counter{}
)

// Semaphore is a named counting semaphore.
type Semaphore struct {
	name string
	c    *counter
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

	registryMu.Lock()
	defer registryMu.Unlock()

	key := objectName(name)
	c, ok := registry[key]
	if !ok {
		c = &counter{n: initial}
		c.cond = sync.NewCond(&c.mu)
		registry[key] = c
	}
	return &Semaphore{name: name, c: c}, nil
}

// Name returns the name the semaphore was opened with.
func (s *Semaphore) Name() string {
	return s.name
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	if s.c == nil {
		return 0
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.n
}

// Signal increments the count and wakes one waiter if there is any.
func (s *Semaphore) Signal() error {
	if s.c == nil {
		return ErrClosed
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.n >= semValueMax {
		return ErrOverflow
	}
	s.c.n++
	s.c.cond.Signal()
	return nil
}

// TryWait decrements the count if it is positive and reports whether it did.
func (s *Semaphore) TryWait() bool {
	if s.c == nil {
		return false
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.n == 0 {
		return false
	}
	s.c.n--
	return true
}

// Wait blocks until the count is positive, then decrements it.
func (s *Semaphore) Wait() error {
	if s.c == nil {
		return ErrClosed
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	for s.c.n == 0 {
		s.c.cond.Wait()
	}
	s.c.n--
	return nil
}

// Close detaches the handle. The name stays in place.
func (s *Semaphore) Close() error {
	s.c = nil
	return nil
}

// Unlink removes the named semaphore. Open handles keep working.
func Unlink(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid semaphore name %q", name)
	}
	registryMu.Lock()
	delete(registry, objectName(name))
	registryMu.Unlock()
	return nil
}

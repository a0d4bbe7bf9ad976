package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gosuda.org/tpuipc"
	"gosuda.org/tpuipc/internal/engine"
)

var errShutdownTimeout = errors.New("server loop did not stop in time")

// worker is one channel and the engine serving it.
type worker struct {
	cfg    tpuipc.Config
	ch     *tpuipc.Channel
	engine engine.Engine
	srv    *tpuipc.Server

	started bool
	served  chan struct{} // closed when Serve returns
}

func newWorker(cfg tpuipc.Config, ch *tpuipc.Channel, eng engine.Engine, srv *tpuipc.Server) *worker {
	return &worker{
		cfg:    cfg,
		ch:     ch,
		engine: eng,
		srv:    srv,
		served: make(chan struct{}),
	}
}

func (w *worker) serve() error {
	defer close(w.served)
	return w.srv.Serve()
}

// release closes the engine and removes the channel. The loop must not be
// running.
func (w *worker) release() error {
	err := w.ch.Destroy()
	w.engine.Close()
	return err
}

// fleet owns the workers of one process and their shutdown. Stopping and
// releasing are serialised so no semaphore is signalled after it is unmapped.
type fleet struct {
	grace time.Duration

	mu      sync.Mutex
	workers []*worker
	closed  bool
	err     error
}

// add hands w to the fleet. It returns false once shutdown has begun; the
// caller then still owns w.
func (f *fleet) add(w *worker) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.workers = append(f.workers, w)
	return true
}

// start runs every loop under g. It returns false once shutdown has begun.
func (f *fleet) start(g *errgroup.Group) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	for _, w := range f.workers {
		w.started = true
		g.Go(w.serve)
	}
	return true
}

// stop asks every running loop to return without releasing anything.
func (f *fleet) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, w := range f.workers {
		if err := w.srv.Stop(); err != nil {
			log.WithField("region", w.ch.Names().Region).WithError(err).Warn("failed to stop server")
		}
	}
}

// shutdown stops every loop, waits up to the grace period for them to return,
// then releases their channels and engines. A channel whose loop is still
// running at the deadline has its names removed but stays mapped. shutdown
// runs once; later calls return the first result.
func (f *fleet) shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.err
	}
	f.closed = true

	var errs []error
	for _, w := range f.workers {
		if !w.started {
			continue
		}
		if err := w.srv.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	expired := make(chan struct{})
	timer := time.AfterFunc(f.grace, func() { close(expired) })
	defer timer.Stop()

	for _, w := range f.workers {
		entry := log.WithField("region", w.ch.Names().Region)
		if w.started {
			select {
			case <-w.served:
			case <-expired:
			}
			select {
			case <-w.served:
			default:
				entry.Warn("server loop still running; removing names only")
				if err := w.ch.Unlink(); err != nil {
					errs = append(errs, err)
				}
				errs = append(errs, fmt.Errorf("%s: %w", w.ch.Names().Region, errShutdownTimeout))
				continue
			}
		}
		if err := w.release(); err != nil {
			errs = append(errs, err)
			continue
		}
		entry.Debug("channel released")
	}

	f.err = errors.Join(errs...)
	return f.err
}

// result is the outcome of the shutdown. It must only be read after shutdown
// returned.
func (f *fleet) result() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

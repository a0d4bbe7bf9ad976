package tpuipc

import (
	"fmt"
	"sync/atomic"
	"time"

	"gosuda.org/tpuipc/internal/engine"
	"gosuda.org/tpuipc/internal/protocol"
)

// Server drives the handshake for one channel:
//
//	WaitRequest -> CopyInput -> Infer -> WriteResult -> SignalDone -> WaitRequest
//
// Requests are served strictly one at a time in the order their
// request-ready signals are observed. Signals that arrive while a cycle is in
// progress stay counted in the semaphore and are served by later cycles; the
// payload itself is not buffered.
type Server struct {
	ch     *Channel
	engine engine.Engine

	observer func(protocol.Phase)

	phase    atomic.Uint32
	cycles   atomic.Uint64
	stopping atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithObserver registers fn to be called on every phase transition, from the
// goroutine running the loop.
func WithObserver(fn func(protocol.Phase)) ServerOption {
	return func(s *Server) {
		s.observer = fn
	}
}

// NewServer binds an engine to a channel. The engine's input buffer must be
// exactly as long as the channel's payload.
func NewServer(ch *Channel, eng engine.Engine, opts ...ServerOption) (*Server, error) {
	if ch == nil || eng == nil {
		return nil, fmt.Errorf("%w: nil channel or engine", ErrInvalidConfig)
	}
	if got, want := len(eng.Input()), len(ch.Payload()); got != want {
		return nil, fmt.Errorf("%w: input %d bytes, payload %d bytes", ErrSizeMismatch, got, want)
	}

	s := &Server{ch: ch, engine: eng}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Phase returns the phase the loop is currently in.
func (s *Server) Phase() protocol.Phase {
	return protocol.Phase(s.phase.Load())
}

// Cycles returns the number of completed request/response cycles.
func (s *Server) Cycles() uint64 {
	return s.cycles.Load()
}

func (s *Server) enter(p protocol.Phase) {
	s.phase.Store(uint32(p))
	if s.observer != nil {
		s.observer(p)
	}
}

// Serve runs the loop until an inference fails or Stop is called. It returns
// an *EngineError or ErrServerClosed. After an *EngineError the producer is
// left blocked on the response semaphore.
func (s *Server) Serve() error {
	names := s.ch.Names()
	log.WithField("region", names.Region).
		WithField("payload", HumanSize(len(s.ch.Payload()))).
		Info("serving")

	for {
		if err := s.Step(); err != nil {
			return err
		}
	}
}

// Step runs exactly one cycle, starting with a blocking wait for the next
// request.
func (s *Server) Step() error {
	s.enter(protocol.PhaseWaitRequest)
	if err := s.ch.Request().Wait(); err != nil {
		return &ResourceError{Op: "wait", Name: s.ch.Names().Request, Err: err}
	}
	if s.stopping.Load() {
		return ErrServerClosed
	}
	cycle := s.cycles.Load() + 1

	s.enter(protocol.PhaseCopyInput)
	start := time.Now()
	copy(s.engine.Input(), s.ch.Payload())

	s.enter(protocol.PhaseInfer)
	inferStart := time.Now()
	score, err := s.engine.Infer()
	if err != nil {
		return &EngineError{Cycle: cycle, Err: err}
	}
	stop := time.Now()

	// The producer is blocked on the response semaphore here, so RESULT is
	// uncontended.
	s.enter(protocol.PhaseWriteResult)
	s.ch.SetResult(score)

	// Counted before the wake so a producer that has its result also sees
	// the cycle as complete.
	s.cycles.Store(cycle)
	s.enter(protocol.PhaseSignalDone)
	if err := s.ch.Response().Signal(); err != nil {
		return &ResourceError{Op: "signal", Name: s.ch.Names().Response, Err: err}
	}

	log.WithField("cycle", cycle).
		WithField("score", score).
		WithField("total", stop.Sub(start)).
		WithField("infer", stop.Sub(inferStart)).
		Debug("request served")

	return nil
}

// Stop makes a loop blocked in WaitRequest return ErrServerClosed. It posts
// the request semaphore once; a cycle already in progress completes first.
func (s *Server) Stop() error {
	if s.stopping.Swap(true) {
		return nil
	}
	if err := s.ch.Request().Signal(); err != nil {
		return &ResourceError{Op: "signal", Name: s.ch.Names().Request, Err: err}
	}
	return nil
}

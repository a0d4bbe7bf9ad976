package tpuipc

import (
	"fmt"
)

// Producer is the client end of a channel. It submits one payload at a time
// and blocks until the server has written the result.
//
// A Producer is not safe for concurrent use, and a channel supports a single
// producer: wake order among several waiters on the response semaphore is
// unspecified.
type Producer struct {
	ch *Channel
}

// OpenProducer attaches to the channel described by cfg.
func OpenProducer(cfg Config) (*Producer, error) {
	ch, err := OpenChannel(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{ch: ch}, nil
}

// NewProducer wraps an already open channel.
func NewProducer(ch *Channel) *Producer {
	return &Producer{ch: ch}
}

// Channel returns the underlying channel.
func (p *Producer) Channel() *Channel {
	return p.ch
}

// Call writes payload into the shared record, signals request-ready, waits for
// response-ready and returns the result. There is no timeout: if the server
// has died, Call blocks forever.
func (p *Producer) Call(payload []byte) (float32, error) {
	dst := p.ch.Payload()
	if dst == nil {
		return 0, ErrClosed
	}
	if len(payload) != len(dst) {
		return 0, fmt.Errorf("%w: got %d bytes, channel carries %d", ErrPayloadSize, len(payload), len(dst))
	}

	copy(dst, payload)
	if err := p.ch.Request().Signal(); err != nil {
		return 0, &ResourceError{Op: "signal", Name: p.ch.Names().Request, Err: err}
	}
	if err := p.ch.Response().Wait(); err != nil {
		return 0, &ResourceError{Op: "wait", Name: p.ch.Names().Response, Err: err}
	}
	return p.ch.Result(), nil
}

// Close releases the producer's handles without removing the names.
func (p *Producer) Close() error {
	return p.ch.Close()
}

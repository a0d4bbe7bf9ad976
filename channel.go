package tpuipc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"gosuda.org/tpuipc/internal/protocol"
	"gosuda.org/tpuipc/internal/sem"
	"gosuda.org/tpuipc/internal/shm"
)

// ChannelMode records whether a channel handle created the shared region or
// attached to an existing one
type ChannelMode uint64

const (
	ChannelModePrimary   ChannelMode = iota // Primary mode: created and zero-filled the region
	ChannelModeSecondary                    // Secondary mode: attached to an existing region
)

// String returns "primary", "secondary" or "unknown".
func (m ChannelMode) String() string {
	switch m {
	case ChannelModePrimary:
		return "primary"
	case ChannelModeSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Channel is one request/response link: a shared region holding a single
// record plus the request-ready and response-ready semaphores.
//
// The region carries no lock. The semaphores alone order access: the producer
// owns PAYLOAD until it signals request-ready, the server owns RESULT until it
// signals response-ready. A peer that touches the record out of turn reads or
// writes undefined values.
type Channel struct {
	cfg   Config
	names Names
	mode  ChannelMode

	region   *shm.Region
	request  *sem.Semaphore // signalled by the producer, waited on by the server
	response *sem.Semaphore // signalled by the server, waited on by the producer

	result  *uint32 // RESULT as float32 bits
	payload []byte  // PAYLOAD, exactly cfg.PayloadSize bytes
}

// OpenChannel creates the channel's named objects, or attaches to them when
// they already exist. The semaphores are opened before the region, so a
// region that exists implies its semaphores do too.
//
// Only the handle that creates the region zero-fills it, and the region is
// published under its name already sized and zeroed. A handle attaching to an
// existing region whose size differs from cfg's record size fails with
// ErrRecordSize and leaves the region untouched.
func OpenChannel(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ch := &Channel{
		cfg:   cfg,
		names: cfg.Names(),
	}

	var err error
	ch.request, err = sem.OpenOrCreate(ch.names.Request, 0)
	if err != nil {
		return nil, &ResourceError{Op: "open", Name: ch.names.Request, Err: err}
	}

	ch.response, err = sem.OpenOrCreate(ch.names.Response, 0)
	if err != nil {
		ch.request.Close()
		return nil, &ResourceError{Op: "open", Name: ch.names.Response, Err: err}
	}

	ch.region, err = shm.CreateOrOpen(ch.names.Region, cfg.RecordSize())
	if err != nil {
		ch.request.Close()
		ch.response.Close()
		if errors.Is(err, shm.ErrSizeMismatch) {
			err = fmt.Errorf("%w: %w", ErrRecordSize, err)
		}
		return nil, &ResourceError{Op: "open", Name: ch.names.Region, Err: err}
	}

	mem := ch.region.Bytes()
	ch.result = (*uint32)(unsafe.Pointer(&mem[protocol.ResultOffset]))
	ch.payload = mem[protocol.PayloadOffset : protocol.PayloadOffset+cfg.PayloadSize : protocol.PayloadOffset+cfg.PayloadSize]

	ch.mode = ChannelModeSecondary
	if ch.region.Created() {
		ch.mode = ChannelModePrimary
	}

	log.WithField("region", ch.names.Region).
		WithField("mode", ch.mode).
		WithField("size", HumanSize(cfg.RecordSize())).
		Debug("channel opened")

	return ch, nil
}

// WaitChannel blocks until a server has created the channel described by
// cfg, or ctx is done.
func WaitChannel(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	name := cfg.Names().Region
	if err := shm.WaitFor(ctx, name); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &ResourceError{Op: "wait", Name: name, Err: err}
	}
	return nil
}

// Remove deletes the named objects of the channel described by cfg without
// opening them. Use it to clear objects left behind by a crashed server.
func Remove(cfg Config) error {
	names := cfg.Names()
	var errs []error
	if err := shm.Unlink(names.Region); err != nil {
		errs = append(errs, &ResourceError{Op: "unlink", Name: names.Region, Err: err})
	}
	if err := sem.Unlink(names.Request); err != nil {
		errs = append(errs, &ResourceError{Op: "unlink", Name: names.Request, Err: err})
	}
	if err := sem.Unlink(names.Response); err != nil {
		errs = append(errs, &ResourceError{Op: "unlink", Name: names.Response, Err: err})
	}
	return errors.Join(errs...)
}

// Config returns the configuration the channel was opened with.
func (c *Channel) Config() Config {
	return c.cfg
}

// Names returns the resolved object names.
func (c *Channel) Names() Names {
	return c.names
}

// Mode returns whether this handle created the region.
func (c *Channel) Mode() ChannelMode {
	return c.mode
}

// Payload returns the PAYLOAD field of the shared record.
func (c *Channel) Payload() []byte {
	return c.payload
}

// Result reads the RESULT field of the shared record.
func (c *Channel) Result() float32 {
	if c.result == nil {
		return 0
	}
	return math.Float32frombits(atomic.LoadUint32(c.result))
}

// SetResult writes the RESULT field of the shared record.
func (c *Channel) SetResult(v float32) {
	if c.result == nil {
		return
	}
	atomic.StoreUint32(c.result, math.Float32bits(v))
}

// Request returns the request-ready semaphore.
func (c *Channel) Request() *sem.Semaphore {
	return c.request
}

// Response returns the response-ready semaphore.
func (c *Channel) Response() *sem.Semaphore {
	return c.response
}

// Close releases the mapping and the semaphore handles. The names stay in
// place for other processes. Close is idempotent.
func (c *Channel) Close() error {
	if c.region == nil {
		return nil
	}

	var errs []error
	if err := c.region.Close(); err != nil {
		errs = append(errs, &ResourceError{Op: "close", Name: c.names.Region, Err: err})
	}
	if err := c.request.Close(); err != nil {
		errs = append(errs, &ResourceError{Op: "close", Name: c.names.Request, Err: err})
	}
	if err := c.response.Close(); err != nil {
		errs = append(errs, &ResourceError{Op: "close", Name: c.names.Response, Err: err})
	}

	c.region = nil
	c.result = nil
	c.payload = nil
	return errors.Join(errs...)
}

// Unlink removes the channel's names from the system. Only the process that
// owns the shutdown sequence should call it.
func (c *Channel) Unlink() error {
	return Remove(c.cfg)
}

// Destroy closes the channel and removes its names.
func (c *Channel) Destroy() error {
	return errors.Join(c.Close(), c.Unlink())
}

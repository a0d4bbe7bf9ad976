package tpuipc

import (
	"fmt"
	"strconv"

	"github.com/docker/go-units"

	"gosuda.org/tpuipc/internal/protocol"
)

// Default object base names. They match the names used by the C producers
// that speak this protocol.
const (
	DefaultRegionName   = "/my_shared_memory"
	DefaultRequestName  = "/my_sender_semaphore"
	DefaultResponseName = "/my_receiver_semaphore"
)

// Config describes one channel. Both processes must use the same Config;
// nothing in the shared objects records it.
type Config struct {
	RegionName   string // base name of the shared region
	RequestName  string // base name of the request-ready semaphore
	ResponseName string // base name of the response-ready semaphore
	Index        int    // instance index, e.g. the accelerator device index
	PayloadSize  int    // N, the payload length in bytes
}

// Names holds the resolved object names of a channel.
type Names struct {
	Region   string
	Request  string
	Response string
}

// DefaultConfig returns the configuration for instance 0 carrying one
// 224x224 RGB image per request.
func DefaultConfig() Config {
	return Config{
		RegionName:   DefaultRegionName,
		RequestName:  DefaultRequestName,
		ResponseName: DefaultResponseName,
		Index:        0,
		PayloadSize:  protocol.DefaultPayloadSize,
	}
}

// Validate checks the configuration for values that cannot form a channel.
func (c Config) Validate() error {
	switch {
	case c.RegionName == "" || c.RequestName == "" || c.ResponseName == "":
		return fmt.Errorf("%w: empty object name", ErrInvalidConfig)
	case c.RequestName == c.ResponseName:
		return fmt.Errorf("%w: request and response semaphores share name %q", ErrInvalidConfig, c.RequestName)
	case c.Index < 0:
		return fmt.Errorf("%w: negative index %d", ErrInvalidConfig, c.Index)
	case c.PayloadSize <= 0:
		return fmt.Errorf("%w: payload size %d", ErrInvalidConfig, c.PayloadSize)
	}
	return nil
}

// Names resolves the object names by suffixing each base name with the
// instance index.
func (c Config) Names() Names {
	suffix := strconv.Itoa(c.Index)
	return Names{
		Region:   c.RegionName + suffix,
		Request:  c.RequestName + suffix,
		Response: c.ResponseName + suffix,
	}
}

// RecordSize returns the byte length of the shared region.
func (c Config) RecordSize() int {
	return protocol.RecordSize(c.PayloadSize)
}

// ImageSize returns the payload length of one width x height image with the
// given number of channels.
func ImageSize(width, height, channels int) int {
	return width * height * channels
}

// ParseSize parses a payload size given either as a byte count or with a
// binary unit suffix ("147KiB", "1m").
func ParseSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: payload size %q: %v", ErrInvalidConfig, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: payload size %q", ErrInvalidConfig, s)
	}
	return int(n), nil
}

// HumanSize formats a byte count with binary units for log output.
func HumanSize(n int) string {
	return units.BytesSize(float64(n))
}

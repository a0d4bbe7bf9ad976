// Package engine holds the inference adapters the server loop drives.
//
// An Engine owns a pre-allocated input buffer whose length is the byte length
// the model expects. The server copies one payload into that buffer and then
// runs the engine synchronously to obtain a single score.
package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrUnknownModel is returned by Open for a reference with no registered scheme.
	ErrUnknownModel = errors.New("engine: unknown model reference")
	// ErrClosed is returned by Infer after Close.
	ErrClosed = errors.New("engine: closed")
)

// Engine runs one inference over the contents of its input buffer.
type Engine interface {
	// Input returns the pre-allocated input buffer.
	Input() []byte
	// Infer runs the model over Input and returns the top score.
	Infer() (float32, error)
	Close() error
}

// Factory builds an engine for a model reference argument and an input size.
type Factory func(arg string, size int) (Engine, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a factory available under scheme. A reference is either
// "scheme" or "scheme:arg".
func Register(scheme string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[scheme] = f
}

// Open builds the engine named by ref with an input buffer of size bytes.
func Open(ref string, size int) (Engine, error) {
	if size <= 0 {
		return nil, fmt.Errorf("engine: invalid input size %d", size)
	}
	scheme, arg, _ := strings.Cut(ref, ":")

	factoriesMu.RLock()
	f, ok := factories[scheme]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, ref)
	}
	return f(arg, size)
}

func init() {
	Register("const", func(arg string, size int) (Engine, error) {
		score, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid constant score %q: %w", arg, err)
		}
		return NewConstant(size, float32(score)), nil
	})
	Register("mean", func(_ string, size int) (Engine, error) {
		return NewMean(size), nil
	})
}

// Constant always scores its input with the same value.
type Constant struct {
	input []byte
	score float32
}

// NewConstant returns an engine with a size-byte input buffer that scores
// every input as score.
func NewConstant(size int, score float32) *Constant {
	return &Constant{input: make([]byte, size), score: score}
}

// Input returns the input buffer.
func (c *Constant) Input() []byte { return c.input }

// Infer returns the configured score, or ErrClosed after Close.
func (c *Constant) Infer() (float32, error) {
	if c.input == nil {
		return 0, ErrClosed
	}
	return c.score, nil
}

// Close releases the input buffer.
func (c *Constant) Close() error {
	c.input = nil
	return nil
}

// Mean scores its input with the mean byte value scaled to [0, 1]. It is a
// cheap deterministic stand-in for a real model.
type Mean struct {
	input []byte
}

// NewMean returns a Mean engine with a size-byte input buffer.
func NewMean(size int) *Mean {
	return &Mean{input: make([]byte, size)}
}

// Input returns the input buffer.
func (m *Mean) Input() []byte { return m.input }

// Infer returns the mean input byte divided by 255, or ErrClosed after
// Close.
func (m *Mean) Infer() (float32, error) {
	if m.input == nil {
		return 0, ErrClosed
	}
	var sum uint64
	for _, b := range m.input {
		sum += uint64(b)
	}
	return float32(float64(sum) / float64(len(m.input)) / 255), nil
}

// Close releases the input buffer.
func (m *Mean) Close() error {
	m.input = nil
	return nil
}

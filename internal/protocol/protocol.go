package protocol

import "unsafe"

// Shared Region record layout:
//
// <<<< OFFSET 0
// RESULT  (float32, native byte order)   // written by the server once per cycle
// <<<< OFFSET 4
// PAYLOAD (N bytes, fixed by configuration) // written by the producer once per cycle
// <<<< OFFSET 4+N
//
// Both processes must agree on N. Nothing in the record describes its own
// size or version.
const (
	ResultOffset  = 0
	ResultSize    = int(unsafe.Sizeof(float32(0)))
	PayloadOffset = ResultOffset + ResultSize
)

// DefaultPayloadSize is one 224x224 RGB image.
const DefaultPayloadSize = 224 * 224 * 3

// RecordSize returns the byte length of a record carrying a payload of n bytes.
func RecordSize(n int) int {
	if n <= 0 {
		return 0
	}
	return PayloadOffset + n
}

//go:generate go tool stringer -type=Phase -trimprefix=Phase
type Phase uint32

// Handshake phases of the server loop. The cycle has no terminal phase.
const (
	// Blocked on the request-ready semaphore.
	PhaseWaitRequest Phase = iota
	// Copying PAYLOAD into the engine's input buffer.
	PhaseCopyInput
	// Running the engine synchronously.
	PhaseInfer
	// Storing the score in RESULT.
	PhaseWriteResult
	// Posting the response-ready semaphore.
	PhaseSignalDone
)

// Next returns the phase that follows p in the cycle.
func (p Phase) Next() Phase {
	if p >= PhaseSignalDone {
		return PhaseWaitRequest
	}
	return p + 1
}

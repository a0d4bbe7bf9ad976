// Package tpuipc hands fixed-size inference requests from a producer process
// to a persistent inference server over a named shared memory record and two
// named counting semaphores.
//
// One cycle of the handshake:
//
//	producer: write PAYLOAD, signal request-ready, wait response-ready, read RESULT
//	server:   wait request-ready, copy PAYLOAD, infer, write RESULT, signal response-ready
//
// Mutual exclusion on the record is cooperative: nothing stops either side
// from touching it out of turn. A channel carries exactly one producer and one
// server. There are no timeouts and no error path back to the producer: if
// the server dies mid-cycle the producer waits forever, and the named objects
// outlive a crashed server until they are removed with Remove.
package tpuipc

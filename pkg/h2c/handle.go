package h2c

import "sync/atomic"

// RequestRef is an opaque handle identifying a request/stream pair. It is
// valid only for the lifetime of the Connection that issued it. Used
// against a different Connection, or after the stream has closed and
// drained, it makes StreamRequestBody return unknown_request_to_stream,
// CancelRequest do nothing, and GetWindowSize panic with ArgumentError.
type RequestRef struct {
	nonce uint64
	seq   uint64
}

// refCounter hands out monotonically increasing sequence numbers scoped to
// one Connection, paired with a process-wide per-connection nonce so refs from different
// connections never collide even if the process reuses sequence numbers.
type refCounter struct {
	nonce uint64
	next  uint64
}

func newRefCounter(nonce uint64) *refCounter {
	return &refCounter{nonce: nonce}
}

func (c *refCounter) next1() RequestRef {
	seq := atomic.AddUint64(&c.next, 1)
	return RequestRef{nonce: c.nonce, seq: seq}
}

package h2c

import "sync/atomic"

// PingRef identifies one outstanding PING round-trip, returned by Ping and
// echoed back on the matching PongResponse.
type PingRef struct {
	seq uint64
}

// pingLedger tracks outstanding PINGs keyed by the 8 opaque wire bytes
// actually sent — which may be caller-supplied rather than sequence-derived
// — so an inbound PING ack can be matched back to the PingRef the caller
// received from Ping.
type pingLedger struct {
	refSeq  uint64
	dataSeq uint64
	live    map[[8]byte]PingRef
}

func newPingLedger() *pingLedger {
	return &pingLedger{live: make(map[[8]byte]PingRef)}
}

// defaultData returns a fresh sequence-derived 8-byte payload, used when
// the caller didn't supply their own opaque bytes to Ping.
func (l *pingLedger) defaultData() [8]byte {
	seq := atomic.AddUint64(&l.dataSeq, 1)
	var data [8]byte
	putUint64(data[:], seq)
	return data
}

// register records data as an outstanding PING payload and returns the
// PingRef the caller will see echoed back on the matching PongResponse.
// Caller holds the Connection lock.
func (l *pingLedger) register(data [8]byte) PingRef {
	ref := PingRef{seq: atomic.AddUint64(&l.refSeq, 1)}
	l.live[data] = ref
	return ref
}

// resolve looks up and removes the PingRef for an acked PING payload. ok is
// false if the payload doesn't match any PING we sent (a foreign ping, or a
// duplicate ack) and the frame should be ignored rather than surfaced.
func (l *pingLedger) resolve(data [8]byte) (PingRef, bool) {
	ref, ok := l.live[data]
	if ok {
		delete(l.live, data)
	}
	return ref, ok
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}


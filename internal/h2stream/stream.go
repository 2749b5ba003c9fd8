// Package h2stream holds the per-stream state machine and the table that
// maps stream ids to streams and opaque request handles to stream ids.
// It knows nothing about sockets or Transports; it only reacts to frame
// events the Connection layer hands it and reports what changed.
package h2stream

import (
	"fmt"
	"sort"

	"github.com/kaelstrand/h2c/internal/flowctl"
)

// State is one node of the RFC 7540 §5.1 stream lifecycle, trimmed to the
// states a client-role core actually visits: a client stream never enters
// "reserved (local)" and a pushed stream never enters plain "open".
type State int

const (
	StateIdle State = iota
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedRemote:
		return "reserved_remote"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half_closed_local"
	case StateHalfClosedRemote:
		return "half_closed_remote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StatusClass distinguishes an informational (1xx) status from the final
// one, needed to know when the status/headers portion of a response is
// done and data/trailers may begin.
type StatusClass int

const (
	StatusClassNone StatusClass = iota
	StatusClassInformational
	StatusClassFinal
)

// Stream is one HTTP/2 stream as seen by a client: it was opened locally
// (an outbound request) or reserved remotely (a server push).
type Stream struct {
	ID      uint32
	Ref     any // opaque request handle; concrete type is RequestRef in pkg/h2c
	State   State
	Windows flowctl.Pair

	StatusClass         StatusClass
	HeadersStreaming     bool // mid-CONTINUATION reassembly
	ContentLengthDeclared int64
	HasContentLength      bool
	BodyBytesReceived     int64

	// Streaming is true only for a request opened with StreamBody — it
	// gates StreamRequestBody so a fixed-body request can't be appended
	// to after the fact.
	Streaming bool

	// SendBuffer holds streaming-body bytes that couldn't be written
	// immediately because the flow-control window ran out; it drains as
	// WINDOW_UPDATE frames arrive. A single-shot request body never
	// buffers here — it is rejected outright instead.
	SendBuffer []byte
	// SendBufferFinal records whether SendBuffer ends the body (END_STREAM
	// should be set once it finishes draining).
	SendBufferFinal bool

	// expectingContinuation is non-zero while a HEADERS/PUSH_PROMISE frame
	// without END_HEADERS is waiting on CONTINUATION frames to finish the
	// same header block; 0 means no CONTINUATION is outstanding.
	expectingContinuation uint32
}

// NewStream returns a freshly idle Stream with windows at initialWindow.
func NewStream(id uint32, ref any, initialWindow uint32) *Stream {
	return &Stream{
		ID:      id,
		Ref:     ref,
		State:   StateIdle,
		Windows: flowctl.Pair{Send: flowctl.New(initialWindow), Recv: flowctl.New(initialWindow)},
	}
}

// Table maps stream ids to Streams and request refs to stream ids, and
// enforces the id-monotonicity / concurrency-cap invariants a Connection
// must hold for its outbound streams.
type Table struct {
	streams       map[uint32]*Stream
	refToStreamID map[any]uint32
	nextStreamID  uint32 // next id this side will allocate, always odd
	lastPeerPush  uint32 // highest even stream id opened by the peer via PUSH_PROMISE
	maxConcurrent uint32
}

// NewTable returns an empty Table. maxConcurrent bounds locally-initiated
// open streams (SETTINGS_MAX_CONCURRENT_STREAMS as advertised by the
// peer); it can be changed later via SetMaxConcurrent.
func NewTable(maxConcurrent uint32) *Table {
	return &Table{
		streams:       make(map[uint32]*Stream),
		refToStreamID: make(map[any]uint32),
		nextStreamID:  1,
		maxConcurrent: maxConcurrent,
	}
}

func (t *Table) SetMaxConcurrent(n uint32) { t.maxConcurrent = n }

// NextLocalID returns the next odd stream id that AllocateLocal will hand
// out. Any lower odd id has therefore already been allocated by this side,
// whether or not it is still present in the table.
func (t *Table) NextLocalID() uint32 { return t.nextStreamID }

// OpenCount returns the number of streams in a non-idle, non-closed state,
// i.e. open, half_closed_local, half_closed_remote, or reserved_remote.
func (t *Table) OpenCount() int {
	n := 0
	for _, s := range t.streams {
		switch s.State {
		case StateOpen, StateHalfClosedLocal, StateHalfClosedRemote, StateReservedRemote:
			n++
		}
	}
	return n
}

// localOpenCount counts only client-initiated streams, the population
// SETTINGS_MAX_CONCURRENT_STREAMS actually bounds (RFC 7540 §5.1.2 caps
// streams the peer has to allocate resources for on ITS side, i.e. ours).
func (t *Table) localOpenCount() int {
	n := 0
	for id, s := range t.streams {
		if id%2 != 1 {
			continue
		}
		switch s.State {
		case StateOpen, StateHalfClosedLocal, StateHalfClosedRemote:
			n++
		}
	}
	return n
}

// AllocateLocal reserves the next odd stream id for a new outbound
// request and registers the Stream, returning an error if the
// concurrency cap has been reached.
func (t *Table) AllocateLocal(ref any, initialWindow uint32) (*Stream, error) {
	if t.maxConcurrent != 0 && uint32(t.localOpenCount()) >= t.maxConcurrent {
		return nil, fmt.Errorf("too many concurrent requests")
	}
	id := t.nextStreamID
	t.nextStreamID += 2
	s := NewStream(id, ref, initialWindow)
	s.State = StateOpen
	t.streams[id] = s
	t.refToStreamID[ref] = id
	return s, nil
}

// AllocateRemote registers a server-pushed stream (announced via
// PUSH_PROMISE) in the reserved_remote state. id must be even, strictly
// greater than every previously-reserved push id, and not already present
// in the table; violating any of these is a connection-level protocol
// error the caller must raise instead of letting a malformed or duplicate
// promise silently clobber table state.
func (t *Table) AllocateRemote(id uint32, ref any, initialWindow uint32) (*Stream, error) {
	if id%2 != 0 {
		return nil, fmt.Errorf("promised stream id %d is not even", id)
	}
	if id <= t.lastPeerPush {
		return nil, fmt.Errorf("promised stream id %d is not strictly greater than the last reserved id %d", id, t.lastPeerPush)
	}
	if _, exists := t.streams[id]; exists {
		return nil, fmt.Errorf("promised stream id %d already has a table entry", id)
	}
	s := NewStream(id, ref, initialWindow)
	s.State = StateReservedRemote
	t.streams[id] = s
	t.refToStreamID[ref] = id
	t.lastPeerPush = id
	return s, nil
}

func (t *Table) ByID(id uint32) (*Stream, bool) {
	s, ok := t.streams[id]
	return s, ok
}

func (t *Table) ByRef(ref any) (*Stream, bool) {
	id, ok := t.refToStreamID[ref]
	if !ok {
		return nil, false
	}
	return t.ByID(id)
}

// Delete removes a stream from the table entirely — used once a closed
// stream's terminal response has been delivered and its handle can never
// be looked up again.
func (t *Table) Delete(id uint32) {
	if s, ok := t.streams[id]; ok {
		delete(t.refToStreamID, s.Ref)
		delete(t.streams, id)
	}
}

// EachOpenLocal calls fn for every locally-initiated stream that is not
// idle/closed, in ascending id order — used for GOAWAY unprocessed-stream
// sweeps and SETTINGS_INITIAL_WINDOW_SIZE propagation, where a
// deterministic order matters for the emitted response sequence.
func (t *Table) EachOpenLocal(fn func(*Stream)) {
	ids := make([]uint32, 0, len(t.streams))
	for id, s := range t.streams {
		if id%2 == 1 && s.State != StateIdle && s.State != StateClosed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(t.streams[id])
	}
}

// EachOpen calls fn for every non-idle, non-closed stream (local and
// remote), in ascending id order.
func (t *Table) EachOpen(fn func(*Stream)) {
	ids := make([]uint32, 0, len(t.streams))
	for id, s := range t.streams {
		if s.State != StateIdle && s.State != StateClosed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(t.streams[id])
	}
}

// IDsAbove returns, in ascending order, the ids of every locally-initiated
// stream with id > lastProcessed that is not idle/closed — the set GOAWAY
// handling must fail with "unprocessed".
func (t *Table) IDsAbove(lastProcessed uint32) []uint32 {
	var ids []uint32
	for id, s := range t.streams {
		if id%2 == 1 && id > lastProcessed && s.State != StateIdle && s.State != StateClosed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}


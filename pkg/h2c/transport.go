package h2c

// Transport is the abstract socket handle a Connection writes to and reads
// from. The core never dials, never owns a file descriptor, and never
// starts a goroutine of its own — the owner constructs some Transport
// (TCP+TLS, an in-memory pipe for tests, anything) and drives it.
//
// Send and Close may be called from the goroutine that also calls into the
// Connection; the core never calls them concurrently with itself. Recv is
// called by Connection.Recv in passive mode, and by Connect while it waits
// for the handshake unless EnableAsyncSettings is set.
type Transport interface {
	// Send writes bytes in full or returns an error; partial writes are the
	// implementation's problem to retry internally, not the core's.
	Send(b []byte) error

	// Close releases the underlying resource. Close must be safe to call
	// more than once.
	Close() error

	// Recv blocks until at least min bytes are available or timeoutMs
	// elapses (0 means no timeout), returning whatever it has. Called by
	// Connection.Recv in passive mode and by a synchronous Connect handshake.
	Recv(min int, timeoutMs int) ([]byte, error)
}

// TransportMessage is the active-mode analogue of a direct Recv call: the
// owner receives these out-of-band (a channel, a callback, a mailbox — the
// core doesn't care which) and feeds them to Connection.Stream.
type TransportMessage interface {
	isTransportMessage()
}

// TransportData carries a batch of inbound bytes read off the wire.
type TransportData struct {
	Bytes []byte
}

func (TransportData) isTransportMessage() {}

// TransportClosedMsg announces the transport closed, peer-initiated or
// otherwise. Open streams are closed without per-stream responses; Stream
// reports a TransportError(closed) for the connection as a whole.
type TransportClosedMsg struct{}

func (TransportClosedMsg) isTransportMessage() {}

// TransportErrorMsg announces an out-of-band I/O fault (e.g. a read error
// surfaced by the owner's event loop rather than by a Send return value).
type TransportErrorMsg struct {
	Reason TransportReason
	Err    error
}

func (TransportErrorMsg) isTransportMessage() {}

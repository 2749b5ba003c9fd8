package h2c

import (
	"fmt"

	"golang.org/x/net/http2"
)

// WindowScope identifies which flow-control window a request overran.
type WindowScope string

const (
	ScopeConnection WindowScope = "connection"
	ScopeRequest    WindowScope = "request"
)

// HTTP2Reason enumerates the protocol-level fault reasons an HTTP2Error can
// carry. Values match the wire vocabulary of spec §7 so callers can switch
// on Reason without string-matching Error().
type HTTP2Reason string

const (
	ReasonClosed                    HTTP2Reason = "closed"
	ReasonClosedForWriting          HTTP2Reason = "closed_for_writing"
	ReasonUnprocessed                HTTP2Reason = "unprocessed"
	ReasonTooManyConcurrentRequests  HTTP2Reason = "too_many_concurrent_requests"
	ReasonServerClosedRequest        HTTP2Reason = "server_closed_request"
	ReasonServerClosedConnection     HTTP2Reason = "server_closed_connection"
	ReasonProtocolError              HTTP2Reason = "protocol_error"
	ReasonCompressionError           HTTP2Reason = "compression_error"
	ReasonFrameSizeError             HTTP2Reason = "frame_size_error"
	ReasonFlowControlError           HTTP2Reason = "flow_control_error"
	ReasonMaxHeaderListSizeExceeded  HTTP2Reason = "max_header_list_size_exceeded"
	ReasonExceedsWindowSize          HTTP2Reason = "exceeds_window_size"
	ReasonMissingStatusHeader        HTTP2Reason = "missing_status_header"
	ReasonRequestIsNotStreaming      HTTP2Reason = "request_is_not_streaming"
	ReasonUnknownRequestToStream     HTTP2Reason = "unknown_request_to_stream"
	ReasonUnallowedTrailingHeader    HTTP2Reason = "unallowed_trailing_header"
	ReasonTransportError             HTTP2Reason = "transport_error"
)

// HTTP2Error is a protocol-level fault: either a local precondition the
// façade refused to violate, or a fault the peer signalled (RST_STREAM,
// GOAWAY, a malformed header block). Connection-fatal reasons leave the
// Connection closed by the time the caller observes the error;
// server_closed_connection leaves it readable but not writable;
// stream-scoped reasons leave it open.
type HTTP2Error struct {
	Reason HTTP2Reason
	Code   http2.ErrCode
	Debug  string
	Size   int
	Limit  int
	Scope  WindowScope
	Window int32
	Header [2]string
	err    error
}

func (e *HTTP2Error) Error() string {
	switch e.Reason {
	case ReasonClosed:
		return "connection is closed"
	case ReasonClosedForWriting:
		return "connection is closed for writing (GOAWAY sent or received)"
	case ReasonUnprocessed:
		return "request was never processed by the server before it went away"
	case ReasonTooManyConcurrentRequests:
		return "too many concurrent requests open on this connection"
	case ReasonServerClosedRequest:
		return fmt.Sprintf("server closed the request with error %v", e.Code)
	case ReasonServerClosedConnection:
		return fmt.Sprintf("server closed the connection with error %v: %s", e.Code, e.Debug)
	case ReasonProtocolError:
		return fmt.Sprintf("protocol error: %s", e.Debug)
	case ReasonCompressionError:
		return fmt.Sprintf("HPACK compression error: %s", e.Debug)
	case ReasonFrameSizeError:
		return fmt.Sprintf("frame size error: %s", e.Debug)
	case ReasonFlowControlError:
		return fmt.Sprintf("flow control error: %s", e.Debug)
	case ReasonMaxHeaderListSizeExceeded:
		return fmt.Sprintf("header list of size %d exceeds the %d limit", e.Size, e.Limit)
	case ReasonExceedsWindowSize:
		return fmt.Sprintf("body exceeds the %s flow-control window of %d bytes", e.Scope, e.Window)
	case ReasonMissingStatusHeader:
		return "final HEADERS block is missing the :status pseudo-header"
	case ReasonRequestIsNotStreaming:
		return "request was not opened with a streaming body"
	case ReasonUnknownRequestToStream:
		return "unknown request reference"
	case ReasonUnallowedTrailingHeader:
		return fmt.Sprintf("trailing header %q is not allowed: %q", e.Header[0], e.Header[1])
	case ReasonTransportError:
		return fmt.Sprintf("transport error: %v", e.err)
	default:
		return fmt.Sprintf("http2 error: %s", e.Reason)
	}
}

func (e *HTTP2Error) Unwrap() error { return e.err }

func errClosed() *HTTP2Error                 { return &HTTP2Error{Reason: ReasonClosed} }
func errClosedForWriting() *HTTP2Error        { return &HTTP2Error{Reason: ReasonClosedForWriting} }
func errUnprocessed() *HTTP2Error             { return &HTTP2Error{Reason: ReasonUnprocessed} }
func errTooManyConcurrentRequests() *HTTP2Error {
	return &HTTP2Error{Reason: ReasonTooManyConcurrentRequests}
}
func errServerClosedRequest(code http2.ErrCode) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonServerClosedRequest, Code: code}
}
func errServerClosedConnection(code http2.ErrCode, debug string) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonServerClosedConnection, Code: code, Debug: debug}
}
func errProtocol(debug string) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonProtocolError, Code: http2.ErrCodeProtocol, Debug: debug}
}
func errCompression(debug string) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonCompressionError, Code: http2.ErrCodeCompression, Debug: debug}
}
func errFrameSize(debug string) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonFrameSizeError, Code: http2.ErrCodeFrameSize, Debug: debug}
}
func errFlowControl(debug string) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonFlowControlError, Code: http2.ErrCodeFlowControl, Debug: debug}
}
func errMaxHeaderListSizeExceeded(size, limit int) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonMaxHeaderListSizeExceeded, Size: size, Limit: limit}
}
func errExceedsWindowSize(scope WindowScope, window int32) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonExceedsWindowSize, Scope: scope, Window: window}
}
func errMissingStatusHeader() *HTTP2Error { return &HTTP2Error{Reason: ReasonMissingStatusHeader} }
func errRequestIsNotStreaming() *HTTP2Error {
	return &HTTP2Error{Reason: ReasonRequestIsNotStreaming}
}
func errUnknownRequestToStream() *HTTP2Error {
	return &HTTP2Error{Reason: ReasonUnknownRequestToStream}
}
func errUnallowedTrailingHeader(name, value string) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonUnallowedTrailingHeader, Header: [2]string{name, value}}
}
func errTransport(err error) *HTTP2Error {
	return &HTTP2Error{Reason: ReasonTransportError, err: err}
}

// toTransportError converts a transport-layer send failure caught while
// reacting to an inbound frame into the TransportError the façade surfaces
// for it — such a failure never taints the connection's protocol state the
// way a genuine HTTP/2 fault does.
func (e *HTTP2Error) toTransportError() *TransportError {
	return NewTransportError(TransportClosed, e.err)
}

// TransportReason enumerates I/O-layer faults, distinct from protocol
// faults. A TransportError from a failed Send leaves the Connection's
// protocol state untouched and the caller decides whether to retry the
// write or close; one from a failed Recv, TransportClosedMsg or
// TransportErrorMsg closes the Connection.
type TransportReason string

const (
	TransportClosed        TransportReason = "closed"
	TransportTimeout        TransportReason = "timeout"
	TransportETimeout       TransportReason = "etimeout"
	TransportNXDomain       TransportReason = "nxdomain"
	TransportEConnRefused   TransportReason = "econnrefused"
	TransportSSLError       TransportReason = "ssl_error"
)

// TransportError wraps an I/O fault raised by the Transport implementation.
type TransportError struct {
	Reason TransportReason
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport error: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError constructs a TransportError for the given reason,
// optionally wrapping the underlying I/O error.
func NewTransportError(reason TransportReason, underlying error) *TransportError {
	return &TransportError{Reason: reason, Err: underlying}
}

// ArgumentError signals a programmer mistake: an unknown setting name, a
// setting value of the wrong type, calling Recv in active mode, or querying
// the window size of an unknown request. It is never returned alongside a
// Connection the way HTTP2Error and TransportError are — callers that want
// to recover from it should wrap the call in a deferred recover(), the same
// way they would guard against any other programming error.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return e.Msg }

func panicArgument(format string, args ...any) {
	panic(&ArgumentError{Msg: fmt.Sprintf(format, args...)})
}

package h2c

// Response is the tagged union emitted by Request/StreamRequestBody/Stream/
// Recv. Callers switch on the concrete type rather than a discriminant
// field; every concrete type below implements Response via an unexported
// marker method so the set is closed to this package.
type Response interface {
	isResponse()
}

// StatusResponse reports a status line, informational (1xx) or final. A
// stream may emit several in a row (a chain of 1xx followed by one final)
// before its HeadersResponse.
type StatusResponse struct {
	Ref  RequestRef
	Code int
}

func (StatusResponse) isResponse() {}

// HeadersResponse carries a header block: the headers accompanying a
// status, or a later trailer block. Pseudo-headers are never included;
// repeated `cookie` values have already been joined with "; ".
type HeadersResponse struct {
	Ref     RequestRef
	Headers [][2]string
}

func (HeadersResponse) isResponse() {}

// DataResponse carries one chunk of response body. Chunk may be empty — an
// empty DATA frame that set END_STREAM is still surfaced so callers see the
// exact frame boundary the server chose.
type DataResponse struct {
	Ref   RequestRef
	Chunk []byte
}

func (DataResponse) isResponse() {}

// DoneResponse is the terminal success event for a stream: no more
// responses for Ref will ever be emitted.
type DoneResponse struct {
	Ref RequestRef
}

func (DoneResponse) isResponse() {}

// ErrorResponse is the terminal failure event for a stream.
type ErrorResponse struct {
	Ref RequestRef
	Err *HTTP2Error
}

func (ErrorResponse) isResponse() {}

// PushPromiseResponse announces a server push: ParentRef is the stream the
// push was associated with, NewRef is the opaque handle for the pushed
// stream's own future Status/Headers/Data/Done events.
type PushPromiseResponse struct {
	ParentRef RequestRef
	NewRef    RequestRef
	Headers   [][2]string
}

func (PushPromiseResponse) isResponse() {}

// SettingsResponse marks that a SETTINGS frame from the peer was applied
// and acknowledged. The peer's handshake SETTINGS frame is surfaced only
// when EnableAsyncSettings is set and is otherwise swallowed; a SETTINGS
// frame applied after the handshake is always surfaced.
type SettingsResponse struct{}

func (SettingsResponse) isResponse() {}

// SettingsAckResponse marks that the peer acknowledged a SETTINGS frame we
// sent, whether during the handshake (if EnableAsyncSettings) or via
// PutSettings.
type SettingsAckResponse struct{}

func (SettingsAckResponse) isResponse() {}

// PongResponse reports a PING round-trip completing. PingRef is the handle
// returned by Ping.
type PongResponse struct {
	PingRef PingRef
}

func (PongResponse) isResponse() {}

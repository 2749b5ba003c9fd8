package h2c

import (
	"errors"
	"io"
	"log"
	"testing"

	"golang.org/x/net/http2"

	"github.com/kaelstrand/h2c/internal/h2frame"
	ihpack "github.com/kaelstrand/h2c/internal/hpack"
)

// fakeTransport is an in-memory Transport double: Send appends to sent,
// Recv drains a queue of canned byte slices the test pre-loads.
type fakeTransport struct {
	sent   [][]byte
	queue  [][]byte
	closed bool
}

func (t *fakeTransport) Send(b []byte) error {
	t.sent = append(t.sent, append([]byte{}, b...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func (t *fakeTransport) Recv(min, timeoutMs int) ([]byte, error) {
	if len(t.queue) == 0 {
		return nil, errors.New("fakeTransport: queue exhausted")
	}
	b := t.queue[0]
	t.queue = t.queue[1:]
	return b, nil
}

func (t *fakeTransport) push(b []byte) { t.queue = append(t.queue, b) }

func newTestConnection(t *testing.T) (*Connection, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	opts := DefaultOptions()
	opts.Mode = ModePassive
	opts.EnableAsyncSettings = true
	opts.Logger = log.New(io.Discard, "", 0)

	conn, _, err := Connect(ft, "https", "example.test", 443, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn, ft
}

func encodeHeaderBlock(t *testing.T, headers [][2]string) []byte {
	t.Helper()
	enc := ihpack.NewEncoder(4096)
	defer enc.Release()
	block, err := enc.Encode(headers)
	if err != nil {
		t.Fatal(err)
	}
	return block
}

func responseKinds(responses []Response) []string {
	kinds := make([]string, len(responses))
	for i, r := range responses {
		switch r.(type) {
		case StatusResponse:
			kinds[i] = "status"
		case HeadersResponse:
			kinds[i] = "headers"
		case DataResponse:
			kinds[i] = "data"
		case DoneResponse:
			kinds[i] = "done"
		case ErrorResponse:
			kinds[i] = "error"
		case PushPromiseResponse:
			kinds[i] = "push_promise"
		case SettingsResponse:
			kinds[i] = "settings"
		case SettingsAckResponse:
			kinds[i] = "settings_ack"
		case PongResponse:
			kinds[i] = "pong"
		default:
			kinds[i] = "unknown"
		}
	}
	return kinds
}

// Scenario 1: a simple GET gets a 200 with no body, delivered as
// status + headers + done in one Recv call.
func TestSimpleGet200NoBody(t *testing.T) {
	conn, ft := newTestConnection(t)

	ref, err := conn.Request("GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	block := encodeHeaderBlock(t, [][2]string{{":status", "200"}})
	ft.push(h2frame.EncodeHeaders(1, true, block, 16384))

	result := conn.Recv(1, 0)
	if result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}
	kinds := responseKinds(result.Responses)
	want := []string{"status", "headers", "done"}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got %v, want %v", kinds, want)
		}
	}
	if sr, ok := result.Responses[0].(StatusResponse); !ok || sr.Ref != ref || sr.Code != 200 {
		t.Fatalf("got %+v", result.Responses[0])
	}
}

// Scenario 2: a status header block split across HEADERS + two
// CONTINUATION frames reassembles into one status/headers pair.
func TestHeadersContinuationReassembly(t *testing.T) {
	conn, ft := newTestConnection(t)

	_, err := conn.Request("GET", "/big", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	block := encodeHeaderBlock(t, [][2]string{
		{":status", "200"},
		{"x-trace-id", "abcdefghijklmnopqrstuvwxyz0123456789"},
	})
	third := len(block) / 3
	if third == 0 {
		third = 1
	}
	part1, part2, part3 := block[:third], block[third:2*third], block[2*third:]

	ft.push(h2frame.EncodeRaw(http2.FrameHeaders, http2.FlagHeadersEndStream, 1, part1))
	ft.push(h2frame.EncodeRaw(http2.FrameContinuation, 0, 1, part2))
	ft.push(h2frame.EncodeRaw(http2.FrameContinuation, http2.FlagContinuationEndHeaders, 1, part3))

	var got []Response
	for i := 0; i < 3; i++ {
		result := conn.Recv(1, 0)
		if result.Err != nil {
			t.Fatalf("Recv #%d: %v", i, result.Err)
		}
		got = append(got, result.Responses...)
	}

	kinds := responseKinds(got)
	want := []string{"status", "headers", "done"}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] || kinds[2] != want[2] {
		t.Fatalf("got %v, want %v", kinds, want)
	}
}

// Scenario 3: the server RST_STREAMs a request mid-flight.
func TestRSTStreamMidStream(t *testing.T) {
	conn, ft := newTestConnection(t)

	ref, err := conn.Request("GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	block := encodeHeaderBlock(t, [][2]string{{":status", "200"}})
	ft.push(h2frame.EncodeHeaders(1, false, block, 16384))
	r1 := conn.Recv(1, 0)
	if r1.Err != nil {
		t.Fatal(r1.Err)
	}

	ft.push(h2frame.EncodeRSTStream(1, http2.ErrCodeCancel))
	r2 := conn.Recv(1, 0)
	if r2.Err != nil {
		t.Fatalf("Recv: %v", r2.Err)
	}
	if len(r2.Responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(r2.Responses))
	}
	er, ok := r2.Responses[0].(ErrorResponse)
	if !ok || er.Ref != ref {
		t.Fatalf("got %+v", r2.Responses[0])
	}
	if er.Err.Reason != ReasonServerClosedRequest {
		t.Fatalf("got reason %v, want %v", er.Err.Reason, ReasonServerClosedRequest)
	}
}

// Scenario 4: GOAWAY below three concurrent streams marks the two above
// last_stream_id unprocessed while leaving the one at-or-below it alone.
func TestGoAwayUnprocessedSweep(t *testing.T) {
	conn, ft := newTestConnection(t)

	ref1, err := conn.Request("GET", "/1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = conn.Request("GET", "/2", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = conn.Request("GET", "/3", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ft.push(h2frame.EncodeGoAway(1, http2.ErrCodeNo, nil))
	result := conn.Recv(1, 0)
	if result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}
	if len(result.Responses) != 2 {
		t.Fatalf("got %d responses, want 2 unprocessed errors", len(result.Responses))
	}
	for _, r := range result.Responses {
		er, ok := r.(ErrorResponse)
		if !ok {
			t.Fatalf("got %+v, want ErrorResponse", r)
		}
		if er.Ref == ref1 {
			t.Fatal("stream 1 is at last_stream_id and must not be marked unprocessed")
		}
		if er.Err.Reason != ReasonUnprocessed {
			t.Fatalf("got reason %v, want %v", er.Err.Reason, ReasonUnprocessed)
		}
	}
}

// Scenario 5: a malformed HPACK block is a connection-fatal compression
// error that closes the connection and sends GOAWAY.
func TestMalformedHPACKClosesConnection(t *testing.T) {
	conn, ft := newTestConnection(t)

	_, err := conn.Request("GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	ft.push(h2frame.EncodeHeaders(1, true, garbage, 16384))

	result := conn.Recv(1, 0)
	if result.Err == nil {
		t.Fatal("want a connection-fatal error for a malformed HPACK block")
	}
	var h2err *HTTP2Error
	if !errors.As(result.Err, &h2err) {
		t.Fatalf("got %T, want *HTTP2Error", result.Err)
	}
	if h2err.Reason != ReasonCompressionError {
		t.Fatalf("got reason %v, want %v", h2err.Reason, ReasonCompressionError)
	}
	if !ft.closed {
		t.Fatal("transport should be closed after a connection-fatal fault")
	}
	if conn.Open() {
		t.Fatal("connection should report closed after a connection-fatal fault")
	}
}

// Scenario 6: once the server's advertised MAX_CONCURRENT_STREAMS is
// exhausted, a further Request fails with too_many_concurrent_requests.
func TestMaxConcurrentStreamsExhausted(t *testing.T) {
	conn, ft := newTestConnection(t)

	ft.push(h2frame.EncodeSettings([]http2.Setting{{ID: http2.SettingMaxConcurrentStreams, Val: 1}}))
	if result := conn.Recv(1, 0); result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}

	if _, err := conn.Request("GET", "/1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Request("GET", "/2", nil, nil); err == nil {
		t.Fatal("want too_many_concurrent_requests once the cap is reached")
	} else {
		var h2err *HTTP2Error
		if !errors.As(err, &h2err) || h2err.Reason != ReasonTooManyConcurrentRequests {
			t.Fatalf("got %v, want too_many_concurrent_requests", err)
		}
	}
}

// Scenario 7: a request body larger than the peer's MAX_FRAME_SIZE is
// split across multiple DATA frames on the wire.
func TestRequestBodySplitsAcrossFrames(t *testing.T) {
	conn, ft := newTestConnection(t)

	ft.push(h2frame.EncodeSettings([]http2.Setting{{ID: http2.SettingMaxFrameSize, Val: 16384}}))
	if result := conn.Recv(1, 0); result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}

	body := make([]byte, 16384*2+10)
	for i := range body {
		body[i] = byte(i)
	}
	baseline := len(ft.sent)
	if _, err := conn.Request("POST", "/upload", nil, body); err != nil {
		t.Fatal(err)
	}

	var dataFrames int
	decoder := h2frame.NewDecoder(1 << 20)
	for _, sent := range ft.sent[baseline:] {
		frames, err := decoder.Feed(sent)
		if err != nil {
			t.Fatal(err)
		}
		for _, fr := range frames {
			if fr.Type == http2.FrameData {
				dataFrames++
			}
		}
	}
	if dataFrames < 3 {
		t.Fatalf("got %d DATA frames, want at least 3 for a body this size", dataFrames)
	}
}

// Scenario 8: a PING round-trips transparently — the ack is consumed by
// the ledger and produces a PongResponse, never a caller-visible error.
func TestPingRoundTrip(t *testing.T) {
	conn, ft := newTestConnection(t)

	baseline := len(ft.sent)
	ref, err := conn.Ping(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ft.sent) != baseline+1 {
		t.Fatalf("got %d sent frames, want %d", len(ft.sent), baseline+1)
	}

	decoder := h2frame.NewDecoder(1 << 20)
	frames, err := decoder.Feed(ft.sent[baseline])
	if err != nil || len(frames) != 1 {
		t.Fatalf("decode sent PING: %v, %d frames", err, len(frames))
	}
	data, err := h2frame.DecodePing(frames[0].Payload)
	if err != nil {
		t.Fatal(err)
	}

	ft.push(h2frame.EncodePing(true, data))
	result := conn.Recv(1, 0)
	if result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}
	if len(result.Responses) != 1 {
		t.Fatalf("got %d responses, want 1 pong", len(result.Responses))
	}
	pong, ok := result.Responses[0].(PongResponse)
	if !ok || pong.PingRef != ref {
		t.Fatalf("got %+v, want pong for %+v", result.Responses[0], ref)
	}
}

// Transport-closed mid-flight surfaces TransportError with no per-stream
// ErrorResponse events — the owner already knows every stream died.
func TestTransportClosedSurfacesNoResponses(t *testing.T) {
	conn, _ := newTestConnection(t)

	if _, err := conn.Request("GET", "/", nil, nil); err != nil {
		t.Fatal(err)
	}

	result, matched := conn.Stream(TransportClosedMsg{})
	if !matched {
		t.Fatal("TransportClosedMsg should be a recognized message type")
	}
	if len(result.Responses) != 0 {
		t.Fatalf("got %d responses, want 0 per the closed-with-no-responses contract", len(result.Responses))
	}
	var terr *TransportError
	if !errors.As(result.Err, &terr) || terr.Reason != TransportClosed {
		t.Fatalf("got %v, want a closed TransportError", result.Err)
	}
	if conn.Open() {
		t.Fatal("connection should report closed after TransportClosedMsg")
	}
}

// CancelRequest is idempotent: calling it twice on the same ref is a
// silent no-op the second time.
func TestCancelRequestIdempotent(t *testing.T) {
	conn, ft := newTestConnection(t)

	ref, err := conn.Request("GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.CancelRequest(ref)
	sentAfterFirst := len(ft.sent)
	conn.CancelRequest(ref)
	if len(ft.sent) != sentAfterFirst {
		t.Fatal("a second CancelRequest on the same ref should not send another RST_STREAM")
	}
}

func dataFrameLen(t *testing.T, b []byte) int {
	t.Helper()
	decoder := h2frame.NewDecoder(1 << 20)
	frames, err := decoder.Feed(b)
	if err != nil || len(frames) != 1 || frames[0].Type != http2.FrameData {
		t.Fatalf("decode DATA frame: %v, %d frames", err, len(frames))
	}
	body, err := h2frame.DecodeData(frames[0].Payload, frames[0].Flags)
	if err != nil {
		t.Fatal(err)
	}
	return len(body)
}

// A streaming request body that outruns its send window queues the excess
// instead of failing the call, and drains it once a WINDOW_UPDATE arrives.
func TestStreamRequestBodyQueuesOnWindowExhaustion(t *testing.T) {
	conn, ft := newTestConnection(t)

	ft.push(h2frame.EncodeSettings([]http2.Setting{{ID: http2.SettingInitialWindowSize, Val: 10}}))
	if result := conn.Recv(1, 0); result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}

	ref, err := conn.Request("POST", "/upload", nil, StreamBody)
	if err != nil {
		t.Fatal(err)
	}

	baseline := len(ft.sent)
	chunk := make([]byte, 100)
	if err := conn.StreamRequestBody(ref, chunk); err != nil {
		t.Fatalf("StreamRequestBody: %v", err)
	}
	if len(ft.sent) != baseline+1 {
		t.Fatalf("got %d frames sent, want %d (only the window's worth)", len(ft.sent), baseline+1)
	}
	if n := dataFrameLen(t, ft.sent[baseline]); n != 10 {
		t.Fatalf("got %d bytes in the first DATA frame, want 10", n)
	}

	ft.push(h2frame.EncodeWindowUpdate(1, 100))
	if result := conn.Recv(1, 0); result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}
	if len(ft.sent) != baseline+2 {
		t.Fatalf("got %d frames sent, want %d (the queued remainder drained)", len(ft.sent), baseline+2)
	}
	if n := dataFrameLen(t, ft.sent[baseline+1]); n != 90 {
		t.Fatalf("got %d bytes in the drained DATA frame, want 90", n)
	}
}

// Ending a streaming request body with EOF half-closes locally; once the
// server's response also ends the stream reaches closed and is reaped out
// of the stream table.
func TestStreamRequestBodyEOFThenServerCloses(t *testing.T) {
	conn, ft := newTestConnection(t)

	ref, err := conn.Request("POST", "/upload", nil, StreamBody)
	if err != nil {
		t.Fatal(err)
	}
	if conn.OpenRequestCount() != 1 {
		t.Fatalf("got %d open requests, want 1", conn.OpenRequestCount())
	}

	if err := conn.StreamRequestBody(ref, []byte("chunk")); err != nil {
		t.Fatalf("StreamRequestBody chunk: %v", err)
	}
	if err := conn.StreamRequestBody(ref, EOF); err != nil {
		t.Fatalf("StreamRequestBody EOF: %v", err)
	}
	if conn.OpenRequestCount() != 1 {
		t.Fatal("half-closed-local stream should still be open until the server closes its side")
	}

	block := encodeHeaderBlock(t, [][2]string{{":status", "200"}})
	ft.push(h2frame.EncodeHeaders(1, true, block, 16384))
	result := conn.Recv(1, 0)
	if result.Err != nil {
		t.Fatalf("Recv: %v", result.Err)
	}
	if conn.OpenRequestCount() != 0 {
		t.Fatalf("got %d open requests after the server's END_STREAM, want 0", conn.OpenRequestCount())
	}
}

package h2c

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/net/http2"

	"github.com/kaelstrand/h2c/internal/h2frame"
	"github.com/kaelstrand/h2c/internal/h2stream"
)

// StreamBody marks a request body that will arrive in chunks via
// StreamRequestBody rather than all at once.
var StreamBody = streamBodySentinel{}

type streamBodySentinel struct{}

// Request opens a new client-initiated stream. headers is the caller's
// regular header set — pseudo-headers are synthesized by Request itself
// from method/path/the connection's authority and inserted first:
// :method and :authority, then any caller-supplied pseudo-headers the
// caller slipped into headers (used for extended CONNECT's :protocol),
// then :scheme and :path.
//
// body is one of: nil (no body, END_STREAM set immediately), a []byte
// (sent as DATA, possibly split across frames, synchronously from within
// this call), or StreamBody (the caller will supply chunks later via
// StreamRequestBody).
func (c *Connection) Request(method, path string, headers [][2]string, body any) (RequestRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lifecycle == lifecycleClosed {
		return RequestRef{}, errClosed()
	}
	if !c.writableLocked() {
		return RequestRef{}, errClosedForWriting()
	}

	ref := c.refs.next1()
	initialWindow := c.remote.InitialWindowSize

	s, err := c.streams.AllocateLocal(ref, initialWindow)
	if err != nil {
		return RequestRef{}, errTooManyConcurrentRequests()
	}
	c.trackStreamOpened()

	full := buildRequestHeaders(method, path, c.authorityHeader(), c.scheme, headers)
	if !hasHeader(headers, "accept-encoding") {
		full = append(full, [2]string{"accept-encoding", AcceptEncoding})
	}

	_, streaming := body.(streamBodySentinel)
	var fixed []byte
	if b, ok := body.([]byte); ok {
		fixed = b
		if !hasHeader(headers, "content-length") {
			full = append(full, [2]string{"content-length", strconv.Itoa(len(fixed))})
		}
	}

	if size := headerListSize(full); uint32(size) > c.remote.MaxHeaderListSize {
		openStreamsGauge.Dec()
		c.streams.Delete(s.ID)
		return RequestRef{}, errMaxHeaderListSizeExceeded(size, int(c.remote.MaxHeaderListSize))
	}

	endStream := body == nil
	hbf, encErr := c.enc.Encode(full)
	if encErr != nil {
		openStreamsGauge.Dec()
		c.streams.Delete(s.ID)
		return RequestRef{}, errProtocol("unable to encode request headers: " + encErr.Error())
	}

	headersBytes := h2frame.EncodeHeaders(s.ID, endStream && !streaming && len(fixed) == 0, hbf, c.remote.MaxFrameSize)
	if err := c.sendLocked(headersBytes); err != nil {
		openStreamsGauge.Dec()
		c.streams.Delete(s.ID)
		return RequestRef{}, err
	}
	framesSentTotal.WithLabelValues("HEADERS").Inc()

	if !streaming && len(fixed) > 0 {
		if err := c.writeDataLocked(s, fixed, true); err != nil {
			return ref, err
		}
	} else if endStream && !streaming {
		s.State = h2stream.StateHalfClosedLocal
	}

	if streaming {
		s.State = h2stream.StateOpen
		s.Streaming = true
	}

	rs := startRequestSpan(context.Background(), method, path)
	c.spans[ref] = rs

	return ref, nil
}

// StreamRequestBody appends one chunk to a streaming request's body, or
// finalizes it. chunk is a []byte for a data chunk, EOF to end the body
// with no trailers, or Trailers(headers) to end it with trailing headers.
func (c *Connection) StreamRequestBody(ref RequestRef, part any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lifecycle == lifecycleClosed {
		return errClosed()
	}

	s, ok := c.streams.ByRef(ref)
	if !ok {
		return errUnknownRequestToStream()
	}
	if !s.Streaming {
		return errRequestIsNotStreaming()
	}
	if s.State != h2stream.StateOpen && s.State != h2stream.StateHalfClosedRemote {
		return errRequestIsNotStreaming()
	}
	if !c.writableLocked() {
		return errClosedForWriting()
	}

	switch v := part.(type) {
	case []byte:
		if err := c.writeDataLocked(s, v, false); err != nil {
			return err
		}
		return nil
	case eofSentinel:
		if len(s.SendBuffer) > 0 {
			s.SendBufferFinal = true
			return nil
		}
		if err := c.writeDataLocked(s, nil, true); err != nil {
			return err
		}
		advanceLocalHalfClose(s)
		c.reapIfClosed(s)
		return nil
	case Trailers:
		name, value, ok := h2stream.ValidateTrailerHeaders(v)
		if !ok {
			return errUnallowedTrailingHeader(name, value)
		}
		hbf, err := c.enc.Encode(v)
		if err != nil {
			return errProtocol("unable to encode trailers: " + err.Error())
		}
		out := h2frame.EncodeHeaders(s.ID, true, hbf, c.remote.MaxFrameSize)
		if err := c.sendLocked(out); err != nil {
			return err
		}
		framesSentTotal.WithLabelValues("HEADERS").Inc()
		advanceLocalHalfClose(s)
		c.reapIfClosed(s)
		return nil
	default:
		panicArgument("StreamRequestBody: part must be []byte, h2c.EOF, or h2c.Trailers")
		return nil
	}
}

func advanceLocalHalfClose(s *h2stream.Stream) {
	if s.State == h2stream.StateOpen {
		s.State = h2stream.StateHalfClosedLocal
	} else if s.State == h2stream.StateHalfClosedRemote {
		s.State = h2stream.StateClosed
	}
}

// EOF ends a streaming request body with no trailers.
var EOF = eofSentinel{}

type eofSentinel struct{}

// Trailers ends a streaming request body with the given trailing headers.
type Trailers [][2]string

// writeDataLocked partitions data across the connection and stream send
// windows and remote.max_frame_size, emitting as many DATA frames as
// needed. final marks that this call also sets END_STREAM on the last
// frame (an empty, final call still emits one empty END_STREAM DATA
// frame, matching the "empty DATA with END_STREAM is still observable"
// invariant in reverse).
func (c *Connection) writeDataLocked(s *h2stream.Stream, data []byte, final bool) *HTTP2Error {
	if len(data) == 0 {
		if !final {
			return nil
		}
		if err := c.sendLocked(h2frame.EncodeRaw(http2.FrameData, http2.FlagDataEndStream, s.ID, nil)); err != nil {
			return err
		}
		framesSentTotal.WithLabelValues("DATA").Inc()
		return nil
	}

	remaining := data
	for len(remaining) > 0 {
		budget := minInt32(s.Windows.Send.Size(), c.connWindow.Send.Size())
		budget = minInt32(budget, int32(c.remote.MaxFrameSize))
		if budget <= 0 {
			if s.Streaming {
				s.SendBuffer = append(s.SendBuffer, remaining...)
				s.SendBufferFinal = final
				return nil
			}
			if c.connWindow.Send.Size() < s.Windows.Send.Size() {
				return errExceedsWindowSize(ScopeConnection, c.connWindow.Send.Size())
			}
			return errExceedsWindowSize(ScopeRequest, s.Windows.Send.Size())
		}
		n := int32(len(remaining))
		if n > budget {
			n = budget
		}
		chunk := remaining[:n]
		remaining = remaining[n:]
		isLast := final && len(remaining) == 0

		frame := h2frame.EncodeData(s.ID, isLast, chunk)
		if frame == nil {
			continue
		}
		if err := c.sendLocked(frame); err != nil {
			return err
		}
		framesSentTotal.WithLabelValues("DATA").Inc()
		s.Windows.Send.Consume(n)
		c.connWindow.Send.Consume(n)
	}
	if final {
		advanceLocalHalfClose(s)
		c.reapIfClosed(s)
	}
	return nil
}

// drainSendBufferLocked flushes as much of a streaming request's queued
// body bytes as the current send windows allow, called whenever a
// WINDOW_UPDATE eases flow control. Bytes still blocked stay queued.
func (c *Connection) drainSendBufferLocked(s *h2stream.Stream) *HTTP2Error {
	if len(s.SendBuffer) == 0 {
		return nil
	}
	data := s.SendBuffer
	final := s.SendBufferFinal
	s.SendBuffer = nil
	s.SendBufferFinal = false
	return c.writeDataLocked(s, data, final)
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// CancelRequest sends RST_STREAM(cancel) for ref and marks the stream
// closed. Unknown or already-closed refs are a silent no-op, making a
// second CancelRequest on the same ref idempotent.
func (c *Connection) CancelRequest(ref RequestRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams.ByRef(ref)
	if !ok || s.State == h2stream.StateClosed {
		return
	}
	_ = c.sendLocked(h2frame.EncodeRSTStream(s.ID, http2.ErrCodeCancel))
	framesSentTotal.WithLabelValues("RST_STREAM").Inc()
	c.closeStreamNow(s)
	if rs, ok := c.spans[ref]; ok {
		rs.end(0, nil)
		delete(c.spans, ref)
	}
}

func hasHeader(headers [][2]string, name string) bool {
	for _, h := range headers {
		if strings.EqualFold(h[0], name) {
			return true
		}
	}
	return false
}

// buildRequestHeaders synthesizes the pseudo-header block and splices the
// caller's regular headers after it: any caller-supplied pseudo-header
// (e.g. :protocol for extended CONNECT) is kept in the order the caller
// gave it, immediately after :method and :authority. :scheme and :path
// are omitted for CONNECT requests unless the caller supplied them.
func buildRequestHeaders(method, path, authority, scheme string, headers [][2]string) [][2]string {
	out := make([][2]string, 0, len(headers)+4)
	out = append(out, [2]string{":method", method})
	out = append(out, [2]string{":authority", authority})

	isConnect := strings.EqualFold(method, "CONNECT")
	var userPseudo, regular [][2]string
	var hasScheme, hasPath bool
	for _, h := range headers {
		if strings.HasPrefix(h[0], ":") {
			userPseudo = append(userPseudo, h)
			if h[0] == ":scheme" {
				hasScheme = true
			}
			if h[0] == ":path" {
				hasPath = true
			}
			continue
		}
		regular = append(regular, h)
	}

	out = append(out, userPseudo...)
	if !isConnect {
		if !hasScheme {
			out = append(out, [2]string{":scheme", scheme})
		}
		if !hasPath {
			out = append(out, [2]string{":path", path})
		}
	}
	out = append(out, h2stream.JoinCookies(regular)...)
	return out
}

// headerListSize computes the uncompressed size SETTINGS_MAX_HEADER_LIST_SIZE
// accounting uses: each field's name and value octets plus a fixed 32-byte
// overhead per RFC 7540 §6.5.2, matching internal/hpack's decoder-side tally.
func headerListSize(headers [][2]string) int {
	n := 0
	for _, h := range headers {
		n += len(h[0]) + len(h[1]) + 32
	}
	return n
}

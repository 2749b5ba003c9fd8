package h2c

import (
	"fmt"

	"golang.org/x/net/http2"

	"github.com/kaelstrand/h2c/internal/flowctl"
	"github.com/kaelstrand/h2c/internal/h2frame"
	"github.com/kaelstrand/h2c/internal/h2stream"
)

// ingest feeds newly-arrived bytes through the frame decoder and
// processes every complete frame it yields, in order, accumulating
// responses. If a connection-fatal error is hit partway through a batch,
// the responses gathered before that point are still returned alongside
// the error: anything observed before the fatal frame is still delivered.
func (c *Connection) ingest(data []byte) ([]Response, *HTTP2Error) {
	bytesReceivedTotal.Add(float64(len(data)))
	frames, decErr := c.decoder.Feed(data)
	var out []Response
	if decErr != nil {
		out = append(out, c.failConnectionLocked(errFrameSize(decErr.Error()))...)
		return out, errFrameSize(decErr.Error())
	}
	for _, fr := range frames {
		framesReceivedTotal.WithLabelValues(fr.Type.String()).Inc()
		rs, herr := c.processFrameLocked(fr)
		out = append(out, rs...)
		if herr != nil {
			// A write failure while sending an automatic reply (a SETTINGS
			// or PING ack, a flow-control WINDOW_UPDATE grant) is an I/O
			// fault, not a protocol violation — it must not tear down the
			// connection's protocol state the way a genuine HTTP/2 fault
			// does. ingestLocked/Connect turn this into a TransportError.
			if herr.Reason != ReasonTransportError {
				out = append(out, c.failConnectionLocked(herr)...)
			}
			return out, herr
		}
	}
	return out, nil
}

// processFrameLocked dispatches one frame to its handler. It returns a
// non-nil *HTTP2Error for connection-fatal faults and for a transport
// write failure (ReasonTransportError) while sending an automatic reply;
// stream-scoped faults are folded into the returned Response list as
// ErrorResponse events and never propagate here.
func (c *Connection) processFrameLocked(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	if c.continuation.active {
		if fr.Type != http2.FrameContinuation || fr.StreamID != c.continuation.streamID {
			return nil, errProtocol("headers are streaming but got a different frame")
		}
		return c.handleContinuation(fr)
	}

	switch fr.Type {
	case http2.FrameSettings, http2.FramePing, http2.FrameGoAway:
		if fr.StreamID != 0 {
			return nil, errProtocol(fmt.Sprintf("%s frame only allowed at the connection level", fr.Type))
		}
	}

	switch fr.Type {
	case http2.FrameHeaders:
		return c.handleHeaders(fr)
	case http2.FrameContinuation:
		return nil, errProtocol("CONTINUATION received outside of headers streaming")
	case http2.FrameData:
		return c.handleData(fr)
	case http2.FrameRSTStream:
		return c.handleRSTStream(fr)
	case http2.FrameSettings:
		return c.handleSettings(fr)
	case http2.FramePing:
		return c.handlePing(fr)
	case http2.FrameGoAway:
		return c.handleGoAway(fr)
	case http2.FrameWindowUpdate:
		return c.handleWindowUpdate(fr)
	case http2.FramePushPromise:
		return c.handlePushPromise(fr)
	case http2.FramePriority:
		return c.handlePriority(fr)
	default:
		// unknown frame types are ignored per RFC 7540 §4.1
		return nil, nil
	}
}

// lookupOpened finds the stream for an inbound frame's stream id, failing
// the connection if the id was never opened by either side, and reports
// whether the frame should simply be dropped (it was opened, then closed).
func (c *Connection) lookupOpened(streamID uint32) (*h2stream.Stream, bool, *HTTP2Error) {
	s, ok := c.streams.ByID(streamID)
	if !ok {
		if streamID%2 == 1 && streamID < c.streams.NextLocalID() {
			// A client-initiated id we allocated but have since forgotten
			// (drained and deleted); treat like any closed stream.
			return nil, true, nil
		}
		return nil, false, errProtocol(fmt.Sprintf("frame with stream ID %d has not been opened yet", streamID))
	}
	if s.State == h2stream.StateClosed {
		return nil, true, nil
	}
	return s, false, nil
}

func (c *Connection) handleHeaders(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	hf, err := h2frame.DecodeHeaders(fr.Payload, fr.Flags)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}

	s, drop, herr := c.lookupOpened(fr.StreamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}

	c.dec.Reset()
	if decErr := c.dec.Write(hf.HeaderBlockFragment); decErr != nil {
		return nil, errCompression("unable to decode headers: " + decErr.Error())
	}

	if !hf.EndHeaders {
		c.continuation = continuationState{active: true, streamID: fr.StreamID, endStream: hf.EndStream}
		return nil, nil
	}

	return c.finishHeaderBlock(s, c.dec.Fields(), hf.EndStream)
}

func (c *Connection) handleContinuation(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	fragment, endHeaders := h2frame.DecodeContinuation(fr.Payload, fr.Flags)
	if decErr := c.dec.Write(fragment); decErr != nil {
		return nil, errCompression("unable to decode headers: " + decErr.Error())
	}
	if !endHeaders {
		return nil, nil
	}

	endStream := c.continuation.endStream
	isPush := c.continuation.isPush
	promisedID := c.continuation.promisedID
	streamID := c.continuation.streamID
	c.continuation = continuationState{}

	if isPush {
		return c.finishPushPromise(streamID, promisedID, c.dec.Fields())
	}

	s, drop, herr := c.lookupOpened(streamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}
	return c.finishHeaderBlock(s, c.dec.Fields(), endStream)
}

// finishHeaderBlock classifies and emits responses for one fully
// reassembled header block on an existing stream: the first block is the
// status (chain of 1xx then final), a later block is trailers.
func (c *Connection) finishHeaderBlock(s *h2stream.Stream, fields [][2]string, endStream bool) ([]Response, *HTTP2Error) {
	if s.StatusClass == h2stream.StatusClassFinal {
		return c.finishTrailers(s, fields, endStream)
	}

	status, err := h2stream.ValidateResponseHeaders(fields)
	if err != nil {
		if h2stream.IsMissingStatus(err) {
			return c.resetStreamWithError(s, errMissingStatusHeader()), nil
		}
		return c.resetStreamWithError(s, errProtocol(err.Error())), nil
	}

	if status < 200 {
		if endStream {
			return c.resetStreamWithError(s, errProtocol("1xx must not set END_STREAM")), nil
		}
		s.StatusClass = h2stream.StatusClassInformational
		headers := h2stream.StripPseudoHeaders(h2stream.JoinCookies(fields))
		return []Response{
			StatusResponse{Ref: s.Ref.(RequestRef), Code: status},
			HeadersResponse{Ref: s.Ref.(RequestRef), Headers: headers},
		}, nil
	}

	s.StatusClass = h2stream.StatusClassFinal
	headers := h2stream.StripPseudoHeaders(h2stream.JoinCookies(fields))
	out := []Response{
		StatusResponse{Ref: s.Ref.(RequestRef), Code: status},
		HeadersResponse{Ref: s.Ref.(RequestRef), Headers: headers},
	}
	if endStream {
		out = append(out, c.closeStreamDone(s)...)
	} else {
		advanceRemoteHalfClose(s, false)
	}
	return out, nil
}

func (c *Connection) finishTrailers(s *h2stream.Stream, fields [][2]string, endStream bool) ([]Response, *HTTP2Error) {
	if !endStream {
		return c.resetStreamWithError(s, errProtocol("trailing headers didn't set END_STREAM")), nil
	}
	if name, value, ok := h2stream.ValidateTrailerHeaders(fields); !ok {
		return c.resetStreamWithError(s, errUnallowedTrailingHeader(name, value)), nil
	}
	out := []Response{HeadersResponse{Ref: s.Ref.(RequestRef), Headers: h2stream.StripPseudoHeaders(h2stream.JoinCookies(fields))}}
	out = append(out, c.closeStreamDone(s)...)
	return out, nil
}

func (c *Connection) handleData(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	body, err := h2frame.DecodeData(fr.Payload, fr.Flags)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}

	s, drop, herr := c.lookupOpened(fr.StreamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}

	n := int32(len(fr.Payload))
	s.Windows.Recv.Consume(n)
	c.connWindow.Recv.Consume(n)
	s.BodyBytesReceived += int64(len(body))

	endStream := fr.Flags&http2.FlagDataEndStream != 0

	var out []Response
	if len(body) > 0 || endStream {
		out = append(out, DataResponse{Ref: s.Ref.(RequestRef), Chunk: body})
	}

	if updates := c.maybeGrantWindowUpdates(s); updates != nil {
		for _, u := range updates {
			if err := c.sendLocked(u); err != nil {
				return out, err
			}
			framesSentTotal.WithLabelValues("WINDOW_UPDATE").Inc()
		}
	}

	if endStream {
		out = append(out, c.closeStreamDone(s)...)
	}
	return out, nil
}

// maybeGrantWindowUpdates returns zero or more encoded WINDOW_UPDATE
// frames to restore the stream and/or connection recv window to its
// initial size, once consumption since the last grant crosses half that
// size. It is a no-op once we've sent GOAWAY (read_only is for draining,
// not for advertising more capacity).
func (c *Connection) maybeGrantWindowUpdates(s *h2stream.Stream) [][]byte {
	if c.goAwaySent {
		return nil
	}
	var out [][]byte
	threshold := int32(c.local.InitialWindowSize) / 2
	if inc, should := flowctl.Granter(&s.Windows.Recv, c.local.InitialWindowSize, threshold); should {
		out = append(out, h2frame.EncodeWindowUpdate(s.ID, inc))
	}
	if inc, should := flowctl.Granter(&c.connWindow.Recv, c.local.InitialWindowSize, threshold); should {
		out = append(out, h2frame.EncodeWindowUpdate(0, inc))
	}
	return out
}

func (c *Connection) handleRSTStream(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	code, err := h2frame.DecodeRSTStream(fr.Payload)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}
	s, drop, herr := c.lookupOpened(fr.StreamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}
	c.closeStreamNow(s)
	if rs, ok := c.spans[s.Ref.(RequestRef)]; ok {
		rs.end(0, errServerClosedRequest(code))
		delete(c.spans, s.Ref.(RequestRef))
	}
	return []Response{ErrorResponse{Ref: s.Ref.(RequestRef), Err: errServerClosedRequest(code)}}, nil
}

func (c *Connection) handlePriority(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	if len(fr.Payload) != 5 {
		return nil, errFrameSize("PRIORITY payload must be 5 bytes")
	}
	// A client-role core does not schedule by priority; the frame is
	// accepted and otherwise ignored.
	return nil, nil
}

func (c *Connection) handleSettings(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	if fr.Flags&http2.FlagSettingsAck != 0 {
		if len(fr.Payload) != 0 {
			return nil, errFrameSize("SETTINGS ack must have empty payload")
		}
		c.localSettingsAcked = true
		var resp []Response
		if c.opts.EnableAsyncSettings || c.lifecycle != lifecycleHandshaking {
			resp = append(resp, SettingsAckResponse{})
		}
		return resp, nil
	}

	entries, err := h2frame.DecodeSettings(fr.Payload)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}

	oldInitialWindow := c.remote.InitialWindowSize
	for _, e := range entries {
		if applyErr := c.remote.applySetting(e.ID, e.Val); applyErr != nil {
			return nil, applyErr
		}
	}
	c.enc.SetMaxDynamicTableSize(c.remote.HeaderTableSize)
	c.streams.SetMaxConcurrent(c.remote.MaxConcurrentStreams)

	if newInitial, ok := findSetting(entries, http2.SettingInitialWindowSize); ok {
		var windowErr error
		c.streams.EachOpenLocal(func(s *h2stream.Stream) {
			if windowErr == nil {
				windowErr = s.Windows.ApplyInitialWindowSizeChange(oldInitialWindow, newInitial)
			}
		})
		if windowErr != nil {
			return nil, errFlowControl(windowErr.Error())
		}
	}

	if err := c.sendLocked(h2frame.EncodeSettingsAck()); err != nil {
		return nil, err
	}
	framesSentTotal.WithLabelValues("SETTINGS").Inc()

	c.remoteSettingsSeen = true
	var resp []Response
	if c.opts.EnableAsyncSettings || c.lifecycle != lifecycleHandshaking {
		resp = append(resp, SettingsResponse{})
	}
	return resp, nil
}

func (c *Connection) handlePing(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	data, err := h2frame.DecodePing(fr.Payload)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}
	if fr.Flags&http2.FlagPingAck != 0 {
		if ref, ok := c.pings.resolve(data); ok {
			return []Response{PongResponse{PingRef: ref}}, nil
		}
		c.opts.Logger.Printf("h2c: unsolicited or mismatched PING ack")
		return nil, nil
	}
	if err := c.sendLocked(h2frame.EncodePing(true, data)); err != nil {
		return nil, err
	}
	framesSentTotal.WithLabelValues("PING").Inc()
	return nil, nil
}

func (c *Connection) handleWindowUpdate(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	increment, err := h2frame.DecodeWindowUpdate(fr.Payload)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}
	if increment == 0 {
		return nil, errProtocol("WINDOW_UPDATE increment of 0")
	}

	if fr.StreamID == 0 {
		if addErr := c.connWindow.Send.Add(int64(increment)); addErr != nil {
			return nil, errFlowControl(addErr.Error())
		}
		var drainErr *HTTP2Error
		c.streams.EachOpenLocal(func(s *h2stream.Stream) {
			if drainErr == nil && len(s.SendBuffer) > 0 {
				drainErr = c.drainSendBufferLocked(s)
			}
		})
		return nil, drainErr
	}

	s, drop, herr := c.lookupOpened(fr.StreamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}
	if addErr := s.Windows.Send.Add(int64(increment)); addErr != nil {
		return c.resetStreamWithError(s, errFlowControl(addErr.Error())), nil
	}
	return nil, c.drainSendBufferLocked(s)
}

func (c *Connection) handlePushPromise(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	promisedID, endHeaders, fragment, err := h2frame.DecodePushPromise(fr.Payload, fr.Flags)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}
	parent, drop, herr := c.lookupOpened(fr.StreamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}

	c.dec.Reset()
	if decErr := c.dec.Write(fragment); decErr != nil {
		return nil, errCompression("unable to decode headers: " + decErr.Error())
	}

	if !endHeaders {
		c.continuation = continuationState{active: true, streamID: fr.StreamID, isPush: true, promisedID: promisedID}
		return nil, nil
	}
	return c.finishPushPromiseOnParent(parent, promisedID, c.dec.Fields())
}

func (c *Connection) finishPushPromise(parentStreamID, promisedID uint32, fields [][2]string) ([]Response, *HTTP2Error) {
	parent, drop, herr := c.lookupOpened(parentStreamID)
	if herr != nil {
		return nil, herr
	}
	if drop {
		return nil, nil
	}
	return c.finishPushPromiseOnParent(parent, promisedID, fields)
}

func (c *Connection) finishPushPromiseOnParent(parent *h2stream.Stream, promisedID uint32, fields [][2]string) ([]Response, *HTTP2Error) {
	newRef := c.refs.next1()
	initialWindow := c.remote.InitialWindowSize
	pushed, err := c.streams.AllocateRemote(promisedID, newRef, initialWindow)
	if err != nil {
		return nil, errProtocol(err.Error())
	}
	c.trackStreamOpened()

	if uint32(c.streams.OpenCount()) > c.local.MaxConcurrentStreams {
		_ = c.sendLocked(h2frame.EncodeRSTStream(promisedID, http2.ErrCodeRefusedStream))
		framesSentTotal.WithLabelValues("RST_STREAM").Inc()
		c.closeStreamNow(pushed)
	}

	headers := h2stream.StripPseudoHeaders(h2stream.JoinCookies(fields))
	return []Response{PushPromiseResponse{
		ParentRef: parent.Ref.(RequestRef),
		NewRef:    newRef,
		Headers:   headers,
	}}, nil
}

func (c *Connection) handleGoAway(fr h2frame.Frame) ([]Response, *HTTP2Error) {
	lastStreamID, code, debug, err := h2frame.DecodeGoAway(fr.Payload)
	if err != nil {
		return nil, errFrameSize(err.Error())
	}

	c.goAwayReceived = true
	c.goAwayLastStreamID = lastStreamID
	if c.lifecycle != lifecycleWriteOnly {
		c.lifecycle = lifecycleReadOnly
	}

	var out []Response
	for _, id := range c.streams.IDsAbove(lastStreamID) {
		s, _ := c.streams.ByID(id)
		c.closeStreamNow(s)
		if rs, ok := c.spans[s.Ref.(RequestRef)]; ok {
			rs.end(0, errUnprocessed())
			delete(c.spans, s.Ref.(RequestRef))
		}
		out = append(out, ErrorResponse{Ref: s.Ref.(RequestRef), Err: errUnprocessed()})
	}

	if code != http2.ErrCodeNo {
		c.connError = errServerClosedConnection(code, string(debug))
	}
	return out, nil
}

// failConnectionLocked transitions the connection to closed after a
// connection-fatal fault: it sends GOAWAY with the fault's code and fails
// every still-open stream with an ErrorResponse carrying that same cause
// before tearing down the transport.
func (c *Connection) failConnectionLocked(cause *HTTP2Error) []Response {
	code := cause.Code
	if code == 0 {
		code = http2.ErrCodeProtocol
	}
	_ = c.sendLocked(h2frame.EncodeGoAway(c.highestProcessedStreamID(), code, []byte(cause.Debug)))
	c.goAwaySent = true

	var out []Response
	c.streams.EachOpen(func(s *h2stream.Stream) {
		c.closeStreamNow(s)
		if rs, ok := c.spans[s.Ref.(RequestRef)]; ok {
			rs.end(0, cause)
			delete(c.spans, s.Ref.(RequestRef))
		}
		out = append(out, ErrorResponse{Ref: s.Ref.(RequestRef), Err: cause})
	})

	_ = c.t.Close()
	c.lifecycle = lifecycleClosed
	c.enc.Release()
	return out
}

func (c *Connection) resetStreamWithError(s *h2stream.Stream, e *HTTP2Error) []Response {
	_ = c.sendLocked(h2frame.EncodeRSTStream(s.ID, http2.ErrCodeProtocol))
	framesSentTotal.WithLabelValues("RST_STREAM").Inc()
	c.closeStreamNow(s)
	requestErrorsTotal.WithLabelValues(string(e.Reason)).Inc()
	if rs, ok := c.spans[s.Ref.(RequestRef)]; ok {
		rs.end(0, e)
		delete(c.spans, s.Ref.(RequestRef))
	}
	return []Response{ErrorResponse{Ref: s.Ref.(RequestRef), Err: e}}
}

func (c *Connection) closeStreamDone(s *h2stream.Stream) []Response {
	advanceRemoteHalfClose(s, true)
	c.reapIfClosed(s)
	if rs, ok := c.spans[s.Ref.(RequestRef)]; ok {
		rs.end(0, nil)
		delete(c.spans, s.Ref.(RequestRef))
	}
	return []Response{DoneResponse{Ref: s.Ref.(RequestRef)}}
}

func advanceRemoteHalfClose(s *h2stream.Stream, endStream bool) {
	if !endStream {
		return
	}
	switch s.State {
	case h2stream.StateOpen:
		s.State = h2stream.StateHalfClosedRemote
	case h2stream.StateHalfClosedLocal:
		s.State = h2stream.StateClosed
	case h2stream.StateReservedRemote:
		s.State = h2stream.StateClosed
	}
}

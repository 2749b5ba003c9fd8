// Package h2frame implements the HTTP/2 frame wire format as pure
// encode/decode functions: no socket, no goroutine, no blocking read. A
// Connection feeds it whatever bytes the Transport handed over and gets
// back zero or more complete Frames plus the leftover partial bytes to
// keep for next time.
package h2frame

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/http2"
)

// FrameHeaderLen is the fixed 9-byte frame header size, RFC 7540 §4.1.
const FrameHeaderLen = 9

// DefaultMaxFrameSize is the RFC 7540 default SETTINGS_MAX_FRAME_SIZE.
const DefaultMaxFrameSize = 16384

// Frame is one decoded HTTP/2 frame: header fields plus the raw payload,
// left uninterpreted so each frame kind's own parser (below) can pull out
// its fields on demand.
type Frame struct {
	Type     http2.FrameType
	Flags    http2.Flags
	StreamID uint32
	Payload  []byte
}

// Decoder accumulates inbound bytes and peels off complete frames as they
// become available, preserving whatever trailing partial frame remains
// for the next Feed. It enforces maxFrameSize against the length a peer
// declares before accepting the frame body.
type Decoder struct {
	buf          []byte
	maxFrameSize uint32
}

// NewDecoder returns a Decoder that rejects declared frame lengths over
// maxFrameSize (the size we advertised via SETTINGS_MAX_FRAME_SIZE).
func NewDecoder(maxFrameSize uint32) *Decoder {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{maxFrameSize: maxFrameSize}
}

// SetMaxFrameSize updates the size ceiling, called when a local SETTINGS
// override changes what we advertise.
func (d *Decoder) SetMaxFrameSize(n uint32) { d.maxFrameSize = n }

// Feed appends newly-received bytes and returns every frame that is now
// fully buffered, in wire order. Remaining partial bytes stay queued for
// the next Feed call. An error indicates a frame whose declared length
// exceeds maxFrameSize — a connection-fatal FRAME_SIZE_ERROR.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	d.buf = append(d.buf, data...)

	var frames []Frame
	for {
		if len(d.buf) < FrameHeaderLen {
			break
		}
		length := uint32(d.buf[0])<<16 | uint32(d.buf[1])<<8 | uint32(d.buf[2])
		if length > d.maxFrameSize {
			return frames, fmt.Errorf("frame length %d exceeds max frame size %d", length, d.maxFrameSize)
		}
		total := FrameHeaderLen + int(length)
		if len(d.buf) < total {
			break
		}

		typ := http2.FrameType(d.buf[3])
		flags := http2.Flags(d.buf[4])
		streamID := binary.BigEndian.Uint32(d.buf[5:9]) & 0x7fffffff
		payload := make([]byte, length)
		copy(payload, d.buf[FrameHeaderLen:total])

		frames = append(frames, Frame{Type: typ, Flags: flags, StreamID: streamID, Payload: payload})
		d.buf = d.buf[total:]
	}
	return frames, nil
}

// Pending reports how many bytes are buffered waiting for the rest of a
// frame to arrive; useful for diagnostics, not needed for correctness.
func (d *Decoder) Pending() int { return len(d.buf) }

// EncodeRaw serializes one frame header plus payload. Used for frame kinds
// that carry no sub-structure worth a dedicated builder (PRIORITY,
// unknown/passthrough types).
func EncodeRaw(typ http2.FrameType, flags http2.Flags, streamID uint32, payload []byte) []byte {
	out := make([]byte, FrameHeaderLen+len(payload))
	out[0] = byte(len(payload) >> 16)
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload))
	out[3] = byte(typ)
	out[4] = byte(flags)
	binary.BigEndian.PutUint32(out[5:9], streamID)
	copy(out[FrameHeaderLen:], payload)
	return out
}

// EncodeSettings builds a SETTINGS frame body from ordered (id, value)
// pairs.
func EncodeSettings(settings []http2.Setting) []byte {
	payload := make([]byte, 0, 6*len(settings))
	for _, s := range settings {
		var b [6]byte
		binary.BigEndian.PutUint16(b[0:2], uint16(s.ID))
		binary.BigEndian.PutUint32(b[2:6], s.Val)
		payload = append(payload, b[:]...)
	}
	return EncodeRaw(http2.FrameSettings, 0, 0, payload)
}

// EncodeSettingsAck builds the empty-payload SETTINGS frame with ACK set.
func EncodeSettingsAck() []byte {
	return EncodeRaw(http2.FrameSettings, http2.FlagSettingsAck, 0, nil)
}

// DecodeSettings parses a SETTINGS frame payload into (id, value) pairs.
// It returns an error if the payload length isn't a multiple of 6, the
// RFC 7540 §6.5 FRAME_SIZE_ERROR case.
func DecodeSettings(payload []byte) ([]http2.Setting, error) {
	if len(payload)%6 != 0 {
		return nil, fmt.Errorf("settings payload length %d not a multiple of 6", len(payload))
	}
	out := make([]http2.Setting, 0, len(payload)/6)
	for i := 0; i < len(payload); i += 6 {
		out = append(out, http2.Setting{
			ID:  http2.SettingID(binary.BigEndian.Uint16(payload[i : i+2])),
			Val: binary.BigEndian.Uint32(payload[i+2 : i+6]),
		})
	}
	return out, nil
}

// EncodeWindowUpdate builds a WINDOW_UPDATE frame for streamID (0 for the
// connection window).
func EncodeWindowUpdate(streamID uint32, increment uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], increment&0x7fffffff)
	return EncodeRaw(http2.FrameWindowUpdate, 0, streamID, b[:])
}

// DecodeWindowUpdate extracts the 31-bit increment from a WINDOW_UPDATE
// payload.
func DecodeWindowUpdate(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("window_update payload length %d, want 4", len(payload))
	}
	return binary.BigEndian.Uint32(payload) & 0x7fffffff, nil
}

// EncodeRSTStream builds a RST_STREAM frame.
func EncodeRSTStream(streamID uint32, code http2.ErrCode) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(code))
	return EncodeRaw(http2.FrameRSTStream, 0, streamID, b[:])
}

// DecodeRSTStream extracts the error code from a RST_STREAM payload.
func DecodeRSTStream(payload []byte) (http2.ErrCode, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("rst_stream payload length %d, want 4", len(payload))
	}
	return http2.ErrCode(binary.BigEndian.Uint32(payload)), nil
}

// EncodeGoAway builds a GOAWAY frame.
func EncodeGoAway(lastStreamID uint32, code http2.ErrCode, debug []byte) []byte {
	payload := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(payload[4:8], uint32(code))
	copy(payload[8:], debug)
	return EncodeRaw(http2.FrameGoAway, 0, 0, payload)
}

// DecodeGoAway extracts the last-stream-id, error code, and debug data
// from a GOAWAY payload.
func DecodeGoAway(payload []byte) (lastStreamID uint32, code http2.ErrCode, debug []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("goaway payload length %d, want >= 8", len(payload))
	}
	lastStreamID = binary.BigEndian.Uint32(payload[0:4]) & 0x7fffffff
	code = http2.ErrCode(binary.BigEndian.Uint32(payload[4:8]))
	debug = payload[8:]
	return lastStreamID, code, debug, nil
}

// EncodePing builds a PING frame.
func EncodePing(ack bool, data [8]byte) []byte {
	var flags http2.Flags
	if ack {
		flags = http2.FlagPingAck
	}
	return EncodeRaw(http2.FramePing, flags, 0, data[:])
}

// DecodePing extracts the 8-byte opaque payload from a PING frame.
func DecodePing(payload []byte) ([8]byte, error) {
	var data [8]byte
	if len(payload) != 8 {
		return data, fmt.Errorf("ping payload length %d, want 8", len(payload))
	}
	copy(data[:], payload)
	return data, nil
}

// DecodeData splits a DATA frame's payload into padding-stripped body
// bytes, per RFC 7540 §6.1.
func DecodeData(payload []byte, flags http2.Flags) ([]byte, error) {
	return stripPadding(payload, flags)
}

// EncodeData builds a DATA frame, setting END_STREAM when requested. A
// zero-length, non-END_STREAM DATA frame is a caller error to avoid
// emitting on the wire (it would be a no-op RFC-legal frame that only
// wastes a round trip); EncodeData returns nil in that case and the
// caller should skip the write.
func EncodeData(streamID uint32, endStream bool, data []byte) []byte {
	if len(data) == 0 && !endStream {
		return nil
	}
	var flags http2.Flags
	if endStream {
		flags |= http2.FlagDataEndStream
	}
	return EncodeRaw(http2.FrameData, flags, streamID, data)
}

// HeadersFields is the parsed, padding/priority-stripped view of a HEADERS
// frame's fixed fields, leaving HeaderBlockFragment as whatever HPACK
// bytes remain.
type HeadersFields struct {
	EndStream           bool
	EndHeaders          bool
	HeaderBlockFragment []byte
	Priority            *PriorityFields
}

// PriorityFields is the optional priority sub-structure a HEADERS frame
// may carry when PRIORITY is set.
type PriorityFields struct {
	Exclusive        bool
	StreamDependency uint32
	Weight           uint8
}

// DecodeHeaders parses a HEADERS frame's fixed fields, stripping PADDED
// and PRIORITY data to leave the header block fragment. The client core
// never needs the priority info beyond accepting the frame, but it is
// returned for completeness and possible future scheduling use.
func DecodeHeaders(payload []byte, flags http2.Flags) (HeadersFields, error) {
	body, err := stripPadding(payload, flags)
	if err != nil {
		return HeadersFields{}, err
	}

	hf := HeadersFields{
		EndStream:  flags&http2.FlagHeadersEndStream != 0,
		EndHeaders: flags&http2.FlagHeadersEndHeaders != 0,
	}

	if flags&http2.FlagHeadersPriority != 0 {
		if len(body) < 5 {
			return HeadersFields{}, fmt.Errorf("headers payload too short for PRIORITY flag")
		}
		dep := binary.BigEndian.Uint32(body[0:4])
		hf.Priority = &PriorityFields{
			Exclusive:        dep&0x80000000 != 0,
			StreamDependency: dep & 0x7fffffff,
			Weight:           body[4] + 1,
		}
		body = body[5:]
	}

	hf.HeaderBlockFragment = body
	return hf, nil
}

// EncodeHeaders builds the HEADERS frame(s) — plus CONTINUATION frames if
// headerBlock exceeds maxFrameSize — needed to carry headerBlock for one
// stream, returning them concatenated as ready-to-send bytes in order.
func EncodeHeaders(streamID uint32, endStream bool, headerBlock []byte, maxFrameSize uint32) []byte {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var out []byte
	remaining := headerBlock
	first := true
	for first || len(remaining) > 0 {
		chunkLen := int(maxFrameSize)
		if len(remaining) < chunkLen {
			chunkLen = len(remaining)
		}
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]
		endHeaders := len(remaining) == 0

		if first {
			var flags http2.Flags
			if endStream {
				flags |= http2.FlagHeadersEndStream
			}
			if endHeaders {
				flags |= http2.FlagHeadersEndHeaders
			}
			out = append(out, EncodeRaw(http2.FrameHeaders, flags, streamID, chunk)...)
			first = false
		} else {
			var flags http2.Flags
			if endHeaders {
				flags |= http2.FlagContinuationEndHeaders
			}
			out = append(out, EncodeRaw(http2.FrameContinuation, flags, streamID, chunk)...)
		}
	}
	return out
}

// DecodeContinuation returns a CONTINUATION frame's header block fragment
// and whether END_HEADERS was set.
func DecodeContinuation(payload []byte, flags http2.Flags) (fragment []byte, endHeaders bool) {
	return payload, flags&http2.FlagContinuationEndHeaders != 0
}

// DecodePushPromise splits a PUSH_PROMISE frame into the promised stream
// id and the header block fragment, stripping padding first.
func DecodePushPromise(payload []byte, flags http2.Flags) (promisedStreamID uint32, endHeaders bool, fragment []byte, err error) {
	body, err := stripPadding(payload, flags)
	if err != nil {
		return 0, false, nil, err
	}
	if len(body) < 4 {
		return 0, false, nil, fmt.Errorf("push_promise payload too short")
	}
	promisedStreamID = binary.BigEndian.Uint32(body[0:4]) & 0x7fffffff
	endHeaders = flags&http2.FlagPushPromiseEndHeaders != 0
	fragment = body[4:]
	return promisedStreamID, endHeaders, fragment, nil
}

// paddedFlag is bit 0x8, the PADDED flag shared by DATA, HEADERS, and
// PUSH_PROMISE frames; the library names it per frame type even though the
// bit value is identical, so stripPadding uses one name for all three.
const paddedFlag = http2.FlagDataPadded

func stripPadding(payload []byte, flags http2.Flags) ([]byte, error) {
	if flags&paddedFlag == 0 {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, fmt.Errorf("padded frame with empty payload")
	}
	padLen := int(payload[0])
	body := payload[1:]
	if padLen > len(body) {
		return nil, fmt.Errorf("padding length %d exceeds remaining payload %d", padLen, len(body))
	}
	return body[:len(body)-padLen], nil
}

// Preface is the 24-byte HTTP/2 client connection preface, RFC 7540 §3.5,
// sent once before any frames.
var Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// Package hpack adapts golang.org/x/net/http2/hpack into the pair of
// per-direction codecs a Connection needs: one encoder for outbound header
// blocks, one decoder for inbound ones, each carrying its own dynamic table
// sized by whichever side's SETTINGS_HEADER_TABLE_SIZE governs it.
package hpack

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/net/http2/hpack"
)

// Encoder produces HPACK-encoded header blocks against a dynamic table
// sized by the peer's advertised SETTINGS_HEADER_TABLE_SIZE.
type Encoder struct {
	enc *hpack.Encoder
	buf *bytes.Buffer
}

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// NewEncoder returns an Encoder whose dynamic table starts at tableSize
// bytes, matching the remote side's default-or-negotiated
// SETTINGS_HEADER_TABLE_SIZE.
func NewEncoder(tableSize uint32) *Encoder {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	enc := hpack.NewEncoder(buf)
	enc.SetMaxDynamicTableSize(tableSize)
	return &Encoder{enc: enc, buf: buf}
}

// SetMaxDynamicTableSize resizes the dynamic table, called whenever a peer
// SETTINGS frame changes SETTINGS_HEADER_TABLE_SIZE.
func (e *Encoder) SetMaxDynamicTableSize(size uint32) {
	e.enc.SetMaxDynamicTableSize(size)
}

// Encode serializes headers in order and returns a fresh copy of the
// resulting header block fragment.
func (e *Encoder) Encode(headers [][2]string) ([]byte, error) {
	e.buf.Reset()
	for _, h := range headers {
		if err := e.enc.WriteField(hpack.HeaderField{Name: h[0], Value: h[1]}); err != nil {
			return nil, fmt.Errorf("hpack encode: %w", err)
		}
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

// Release returns the encoder's scratch buffer to the pool. The Encoder
// must not be used after Release.
func (e *Encoder) Release() {
	if e.buf != nil {
		e.buf.Reset()
		bufPool.Put(e.buf)
		e.buf = nil
	}
}

// Decoder decodes HPACK header blocks, accumulating emitted fields across
// possibly many Write calls (one per HEADERS/CONTINUATION fragment) until
// the caller has fed the whole block.
type Decoder struct {
	dec     *hpack.Decoder
	fields  [][2]string
	maxSize int // SETTINGS_MAX_HEADER_LIST_SIZE, 0 means unbounded
	size    int
}

// NewDecoder returns a Decoder whose dynamic table starts at tableSize
// bytes — this side's own advertised SETTINGS_HEADER_TABLE_SIZE, since the
// decoder tracks the table the encoder on the OTHER end maintains for us.
func NewDecoder(tableSize uint32) *Decoder {
	d := &Decoder{}
	d.dec = hpack.NewDecoder(tableSize, d.onField)
	return d
}

// SetMaxHeaderListSize bounds the running total of name+value+32 bytes
// across all fields emitted by one logical header block (spec'd the same
// way RFC 7540 §6.5.2 describes SETTINGS_MAX_HEADER_LIST_SIZE). 0 disables
// the check.
func (d *Decoder) SetMaxHeaderListSize(n int) { d.maxSize = n }

func (d *Decoder) onField(hf hpack.HeaderField) {
	d.size += len(hf.Name) + len(hf.Value) + 32
	d.fields = append(d.fields, [2]string{hf.Name, hf.Value})
}

// SetMaxDynamicTableSize resizes the dynamic table this decoder maintains
// on behalf of the peer's encoder, called when OUR local
// SETTINGS_HEADER_TABLE_SIZE changes (the peer is required to respect it).
func (d *Decoder) SetMaxDynamicTableSize(size uint32) {
	d.dec.SetMaxDynamicTableSize(size)
}

// Write feeds one HEADERS/CONTINUATION fragment's payload into the decoder.
// Fields decoded so far are retrievable via Fields; call Reset once the
// caller has consumed them (normally right after END_HEADERS).
func (d *Decoder) Write(p []byte) error {
	if _, err := d.dec.Write(p); err != nil {
		return fmt.Errorf("hpack decode: %w", err)
	}
	if d.maxSize > 0 && d.size > d.maxSize {
		return &ListSizeExceededError{Size: d.size, Limit: d.maxSize}
	}
	return nil
}

// Fields returns the header fields decoded since the last Reset.
func (d *Decoder) Fields() [][2]string { return d.fields }

// Reset clears the accumulated field list and running size, readying the
// decoder for the next header block while preserving the dynamic table.
func (d *Decoder) Reset() {
	d.fields = nil
	d.size = 0
}

// ListSizeExceededError reports that a decoded header block's running total
// passed the configured SETTINGS_MAX_HEADER_LIST_SIZE.
type ListSizeExceededError struct {
	Size  int
	Limit int
}

func (e *ListSizeExceededError) Error() string {
	return fmt.Sprintf("header list of size %d exceeds limit %d", e.Size, e.Limit)
}

package h2c

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"

	"github.com/kaelstrand/h2c/internal/flowctl"
	"github.com/kaelstrand/h2c/internal/h2frame"
	"github.com/kaelstrand/h2c/internal/h2stream"
	ihpack "github.com/kaelstrand/h2c/internal/hpack"
)

// lifecycle is the connection-level substate: the preface/SETTINGS
// handshake, steady-state open, the two half-closed states a GOAWAY in
// either direction produces, and fully closed.
type lifecycle int

const (
	lifecycleHandshaking lifecycle = iota
	lifecycleOpen
	lifecycleReadOnly  // we received GOAWAY: may still read, may not write new requests
	lifecycleWriteOnly // we sent GOAWAY: may still read pending streams, wrote our last request
	lifecycleClosed
)

var connNonce uint64

// Connection is one non-owning HTTP/2 client connection: it holds no
// socket, starts no goroutine, and never calls Transport on its own
// initiative. The owner pushes inbound bytes through Stream or Recv and
// drives every operation; Connection only computes state transitions and
// the bytes/responses those transitions produce.
type Connection struct {
	mu sync.Mutex

	scheme   string
	host     string
	port     int
	t        Transport
	opts     Options
	lifecycle lifecycle

	local  Settings
	remote Settings

	connWindow flowctl.Pair

	enc *ihpack.Encoder
	dec *ihpack.Decoder

	decoder *h2frame.Decoder

	streams *h2stream.Table
	refs    *refCounter

	continuation continuationState

	goAwayLastStreamID uint32
	goAwaySent         bool
	goAwayReceived     bool
	connError          *HTTP2Error

	pings *pingLedger

	localSettingsAcked  bool
	remoteSettingsSeen  bool
	pendingLocalSettings []http2.Setting // sent but not yet acked, most recent last

	private map[string]any

	// spans tracks the open tracing span per in-flight request, keyed by
	// the same ref the Stream Table uses.
	spans map[RequestRef]requestSpan
}

// continuationState tracks a HEADERS/PUSH_PROMISE block still being
// reassembled across CONTINUATION frames, pinned to one stream.
type continuationState struct {
	active     bool
	streamID   uint32
	isPush     bool
	promisedID uint32
	endStream  bool
}

// Connect begins a handshake over an already-established Transport: it
// sends the client preface and initial SETTINGS, then — unless
// opts.EnableAsyncSettings is set — drives the Transport's Recv until the
// peer's SETTINGS and the ack for ours have both been observed, performing
// a synchronous handshake. With EnableAsyncSettings, Connect returns
// immediately and the handshake SETTINGS/ack pair is surfaced as ordinary
// SettingsResponse/SettingsAckResponse events on the first Stream/Recv call.
func Connect(t Transport, scheme, host string, port int, opts Options) (*Connection, []Response, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	nonce := atomic.AddUint64(&connNonce, 1)
	c := &Connection{
		scheme:     scheme,
		host:       host,
		port:       port,
		t:          t,
		opts:       opts,
		lifecycle:  lifecycleHandshaking,
		local:      opts.ClientSettings,
		remote:     DefaultSettings(),
		connWindow: flowctl.NewPair(),
		decoder:    h2frame.NewDecoder(opts.ClientSettings.MaxFrameSize),
		streams:    h2stream.NewTable(DefaultSettings().MaxConcurrentStreams),
		refs:       newRefCounter(nonce),
		pings:      newPingLedger(),
		private:    make(map[string]any),
		spans:      make(map[RequestRef]requestSpan),
	}
	c.enc = ihpack.NewEncoder(c.remote.HeaderTableSize)
	c.dec = ihpack.NewDecoder(c.local.HeaderTableSize)
	if c.local.MaxHeaderListSize != DefaultSettings().MaxHeaderListSize {
		c.dec.SetMaxHeaderListSize(int(c.local.MaxHeaderListSize))
	}

	out := append([]byte{}, h2frame.Preface...)
	settingsFrame := h2frame.EncodeSettings(c.local.diffFromDefault())
	out = append(out, settingsFrame...)
	if err := c.t.Send(out); err != nil {
		return c, nil, NewTransportError(TransportClosed, err)
	}
	bytesSentTotal.Add(float64(len(out)))
	framesSentTotal.WithLabelValues("SETTINGS").Inc()
	c.pendingLocalSettings = c.local.diffFromDefault()

	if opts.EnableAsyncSettings {
		c.lifecycle = lifecycleOpen
		return c, nil, nil
	}

	var responses []Response
	for !(c.remoteSettingsSeen && c.localSettingsAcked) {
		b, err := c.t.Recv(1, 0)
		if err != nil {
			return c, responses, NewTransportError(TransportClosed, err)
		}
		rs, herr := c.ingest(b)
		responses = append(responses, rs...)
		if herr != nil {
			if herr.Reason == ReasonTransportError {
				return c, responses, herr.toTransportError()
			}
			return c, responses, herr
		}
	}
	c.lifecycle = lifecycleOpen
	return c, responses, nil
}

// Open reports whether the connection is usable at all (not yet closed).
func (c *Connection) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle != lifecycleClosed
}

// OpenFor reports whether the connection may still read or still write,
// per direction. A connection that has sent or received GOAWAY remains
// "open" in the Open() sense while one of these is false.
func (c *Connection) OpenFor(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch dir {
	case "read":
		return c.lifecycle != lifecycleClosed
	case "write":
		return c.lifecycle != lifecycleClosed && c.lifecycle != lifecycleReadOnly && !c.goAwaySent
	default:
		panicArgument("OpenFor: unknown direction %q, want \"read\" or \"write\"", dir)
		return false
	}
}

// OpenRequestCount returns the number of streams currently open, counting
// both locally-initiated requests and server pushes.
func (c *Connection) OpenRequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams.OpenCount()
}

// GetSocket returns the underlying Transport, for callers that need to
// inspect it (e.g. to read TLS connection state) without the core
// mediating access.
func (c *Connection) GetSocket() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// PutPrivate stores an opaque value under key, for the owner's own
// bookkeeping; the core never reads it back.
func (c *Connection) PutPrivate(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.private[key] = value
}

// GetPrivate retrieves a value stored by PutPrivate.
func (c *Connection) GetPrivate(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.private[key]
	return v, ok
}

// SetMode switches between active and passive delivery.
func (c *Connection) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Mode = m
}

// ControllingProcess retargets the active-mode owner handle. The core
// never delivers anything itself; this is bookkeeping the caller's own
// dispatcher is expected to honor.
func (c *Connection) ControllingProcess(owner any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.private["__controlling_process"] = owner
}

// GetWindowSize reports the current flow-control window for the
// connection scope or for one request's stream. Scope must be
// ScopeConnection or ScopeRequest; for ScopeRequest pass ref via the
// second argument.
func (c *Connection) GetWindowSize(scope WindowScope, ref RequestRef) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scope == ScopeConnection {
		return c.connWindow.Send.Size()
	}
	s, ok := c.streams.ByRef(ref)
	if !ok {
		panicArgument("GetWindowSize: unknown request reference")
	}
	return s.Windows.Send.Size()
}

// GetServerSetting reads one of the seven tracked SETTINGS values as last
// advertised by the peer. Unknown keys panic with ArgumentError.
func (c *Connection) GetServerSetting(key string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.remote.get(key)
	if !ok {
		panicArgument("GetServerSetting: unknown setting %q", key)
	}
	return v
}

// PutSettings enqueues a local SETTINGS frame updating any subset of the
// seven tracked fields, keyed by the same names GetServerSetting reads.
// Unknown keys or out-of-range values panic with ArgumentError. It returns
// closed_for_writing once the connection can no longer write, or the
// transport error if sending the frame fails; otherwise nil.
func (c *Connection) PutSettings(kv map[string]uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.writableLocked() {
		return errClosedForWriting()
	}

	var entries []http2.Setting
	for k, v := range kv {
		id, ok := settingsFieldNames[k]
		if !ok {
			panicArgument("PutSettings: unknown setting %q", k)
		}
		if err := c.local.applySetting(id, v); err != nil {
			panicArgument("PutSettings: invalid value %d for %q: %s", v, k, err.Debug)
		}
		entries = append(entries, http2.Setting{ID: id, Val: v})
	}

	frame := h2frame.EncodeSettings(entries)
	if err := c.sendLocked(frame); err != nil {
		return err
	}
	framesSentTotal.WithLabelValues("SETTINGS").Inc()
	c.pendingLocalSettings = append(c.pendingLocalSettings, entries...)
	if tableEntry, ok := findSetting(entries, http2.SettingHeaderTableSize); ok {
		c.dec.SetMaxDynamicTableSize(tableEntry)
	}
	if mfsEntry, ok := findSetting(entries, http2.SettingMaxFrameSize); ok {
		c.decoder.SetMaxFrameSize(mfsEntry)
	}
	return nil
}

func findSetting(entries []http2.Setting, id http2.SettingID) (uint32, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e.Val, true
		}
	}
	return 0, false
}

// Ping enqueues an outbound PING. opaque, if non-nil, must be exactly 8
// bytes and is used verbatim; otherwise an 8-byte value derived from an
// internal counter is generated. It returns the handle that will appear
// on the matching PongResponse.
func (c *Connection) Ping(opaque []byte) (PingRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.writableLocked() {
		return PingRef{}, errClosedForWriting()
	}

	var data [8]byte
	if opaque != nil {
		if len(opaque) != 8 {
			panicArgument("Ping: opaque must be exactly 8 bytes, got %d", len(opaque))
		}
		copy(data[:], opaque)
	} else {
		data = c.pings.defaultData()
	}
	ref := c.pings.register(data)
	if err := c.sendLocked(h2frame.EncodePing(false, data)); err != nil {
		return ref, err
	}
	framesSentTotal.WithLabelValues("PING").Inc()
	return ref, nil
}

// Close idempotently sends GOAWAY(no_error) if the connection hasn't
// already sent one, then closes the Transport. Calling Close twice is a
// no-op the second time.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.lifecycle == lifecycleClosed {
		return
	}
	if !c.goAwaySent {
		_ = c.sendLocked(h2frame.EncodeGoAway(c.highestProcessedStreamID(), http2.ErrCodeNo, nil))
		c.goAwaySent = true
	}
	_ = c.t.Close()
	c.lifecycle = lifecycleClosed
	c.streams.EachOpen(func(s *h2stream.Stream) { c.closeStreamNow(s) })
	c.enc.Release()
}

// trackStreamOpened increments the process-wide open-stream gauge for a
// newly allocated stream.
func (c *Connection) trackStreamOpened() { openStreamsGauge.Inc() }

// closeStreamNow forces s into the closed state, decrementing the
// open-stream gauge if it wasn't closed already, and removes it from the
// stream table: once a terminal response has been emitted for its ref,
// nothing looks it up again.
func (c *Connection) closeStreamNow(s *h2stream.Stream) {
	if s.State != h2stream.StateClosed {
		s.State = h2stream.StateClosed
		openStreamsGauge.Dec()
	}
	c.streams.Delete(s.ID)
}

// reapIfClosed removes s from the stream table if a half-close transition
// just carried it into the closed state.
func (c *Connection) reapIfClosed(s *h2stream.Stream) {
	if s.State == h2stream.StateClosed {
		openStreamsGauge.Dec()
		c.streams.Delete(s.ID)
	}
}

func (c *Connection) highestProcessedStreamID() uint32 {
	var max uint32
	c.streams.EachOpen(func(s *h2stream.Stream) {
		if s.ID > max {
			max = s.ID
		}
	})
	return max
}

func (c *Connection) writableLocked() bool {
	return c.lifecycle == lifecycleOpen && !c.goAwaySent
}

func (c *Connection) sendLocked(b []byte) *HTTP2Error {
	if err := c.t.Send(b); err != nil {
		return errTransport(err)
	}
	bytesSentTotal.Add(float64(len(b)))
	return nil
}

// authorityHeader builds the :authority pseudo-header value, including
// the port unless it is the scheme's default (80 for http/h2c, 443 for
// https/h2).
func (c *Connection) authorityHeader() string {
	defaultPort := 80
	if c.scheme == "https" || c.scheme == "h2" {
		defaultPort = 443
	}
	if c.port == defaultPort {
		return c.host
	}
	return c.host + ":" + strconv.Itoa(c.port)
}

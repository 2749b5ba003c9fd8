// Package flowctl tracks the HTTP/2 flow-control windows a Connection
// needs: one pair (send, recv) at connection scope and one pair per stream,
// all 31-bit signed integers per RFC 7540 §6.9.
package flowctl

import "fmt"

const (
	// MaxWindow is the largest value a flow-control window may hold.
	MaxWindow = 1<<31 - 1
	// MinWindow is the smallest value a flow-control window may hold; a
	// SETTINGS_INITIAL_WINDOW_SIZE change can legally drive an existing
	// stream's send window negative.
	MinWindow = -1 << 31
)

// Window is one signed flow-control counter, either a connection window or
// one stream's window, in one direction.
type Window struct {
	size int32
}

// New returns a Window initialized to n.
func New(n uint32) Window { return Window{size: int32(n)} }

// Size returns the current window, positive meaning bytes still available
// to send/receive, negative meaning an initial-window-size reduction has
// put the window in debt.
func (w Window) Size() int32 { return w.size }

// Add applies a WINDOW_UPDATE increment (always non-negative) or a
// SETTINGS_INITIAL_WINDOW_SIZE delta (which may be negative), saturating
// at MinWindow rather than overflowing int32. Add returns an error, and
// leaves the window unchanged, if the result would exceed MaxWindow, per
// RFC 7540 §6.9.1 — the caller is responsible for turning that into a
// flow_control_error.
func (w *Window) Add(delta int64) error {
	next := int64(w.size) + delta
	if next > MaxWindow {
		return fmt.Errorf("window overflow: %d + %d > %d", w.size, delta, MaxWindow)
	}
	if next < MinWindow {
		next = MinWindow
	}
	w.size = int32(next)
	return nil
}

// Consume deducts n bytes, used when accounting for an outbound DATA frame
// we chose to send or an inbound one the peer sent. n must not exceed
// Size() on the send side; callers enforce that before calling.
func (w *Window) Consume(n int32) { w.size -= n }

// Pair bundles the two directions of one flow-control scope (what we may
// send, what we have granted the peer to send us).
type Pair struct {
	Send Window
	Recv Window
}

// NewPair returns a Pair with both windows at the RFC default of 65535,
// the value every connection and stream window starts at before any
// SETTINGS or WINDOW_UPDATE is processed.
func NewPair() Pair {
	return Pair{Send: New(65535), Recv: New(65535)}
}

// ApplyInitialWindowSizeChange adjusts Send by (newVal - oldVal), the rule
// RFC 7540 §6.9.2 requires for every stream already open when a SETTINGS
// frame changes SETTINGS_INITIAL_WINDOW_SIZE. It does not touch Recv: the
// recv window is this side's own grant to the peer and is unaffected by
// the peer's settings.
func (p *Pair) ApplyInitialWindowSizeChange(oldVal, newVal uint32) error {
	return p.Send.Add(int64(newVal) - int64(oldVal))
}

// Granter decides whether a recv window that has been drawn down by inbound
// DATA should be topped back up to initial, following a half-threshold
// policy: top up once the window has fallen to half of its configured
// initial size. A threshold of 0 disables automatic top-ups. When should is
// true, recv has already been credited with increment.
func Granter(recv *Window, initial uint32, threshold int32) (increment uint32, should bool) {
	consumed := int32(initial) - recv.Size()
	if threshold <= 0 || consumed < threshold {
		return 0, false
	}
	_ = recv.Add(int64(consumed))
	return uint32(consumed), true
}

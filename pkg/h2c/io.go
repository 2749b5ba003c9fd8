package h2c

import "github.com/kaelstrand/h2c/internal/h2stream"

// StreamResult is what Stream/Recv return: the responses produced by one
// batch of inbound bytes, plus an error when that batch either carried a
// connection-fatal protocol fault, a GOAWAY with an error code other than
// NO_ERROR, or a transport close.
// Responses may still be non-empty alongside a non-nil Err, since everything
// observed before the fault is still delivered.
type StreamResult struct {
	Responses []Response
	Err       error
}

// Stream feeds one transport-shaped message into the connection. It is
// the active-mode entry point: the owner's event loop calls it for every
// TransportMessage it receives. Matched returns false if msg's concrete
// type isn't one Stream recognizes, mirroring the façade's ":unknown"
// return for non-matching messages.
func (c *Connection) Stream(msg TransportMessage) (result StreamResult, matched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case TransportData:
		return c.ingestLocked(m.Bytes), true
	case TransportClosedMsg:
		return c.handleTransportClosedLocked(), true
	case TransportErrorMsg:
		return c.handleTransportErrorLocked(m), true
	default:
		return StreamResult{}, false
	}
}

// Recv reads directly from the Transport and processes whatever bytes
// come back. It is only legal in ModePassive; calling it in ModeActive
// raises ArgumentError, matching the façade's "can't use recv" guard.
func (c *Connection) Recv(minBytes, timeoutMs int) StreamResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.Mode != ModePassive {
		panicArgument("Recv: connection is not in passive mode")
	}
	if c.lifecycle == lifecycleClosed {
		return StreamResult{Err: errClosed()}
	}

	b, err := c.t.Recv(minBytes, timeoutMs)
	if err != nil {
		return c.handleTransportErrorLocked(TransportErrorMsg{Reason: TransportClosed, Err: err})
	}
	return c.ingestLocked(b)
}

func (c *Connection) ingestLocked(data []byte) StreamResult {
	priorConnErr := c.connError
	responses, herr := c.ingest(data)
	if herr != nil {
		if herr.Reason == ReasonTransportError {
			return StreamResult{Responses: responses, Err: herr.toTransportError()}
		}
		return StreamResult{Responses: responses, Err: herr}
	}
	if c.connError != nil && c.connError != priorConnErr {
		return StreamResult{Responses: responses, Err: c.connError}
	}
	return StreamResult{Responses: responses}
}

// handleTransportClosedLocked implements the façade's specific contract
// for an out-of-band transport closure: any streams in flight are marked
// closed but, unlike a protocol fault, no per-stream ErrorResponse events
// are synthesized — the owner already knows every stream died with the
// transport.
func (c *Connection) handleTransportClosedLocked() StreamResult {
	if c.lifecycle == lifecycleClosed {
		return StreamResult{}
	}
	c.closeAllStreamsSilentlyLocked()
	c.lifecycle = lifecycleClosed
	c.enc.Release()
	return StreamResult{Err: NewTransportError(TransportClosed, nil)}
}

func (c *Connection) handleTransportErrorLocked(m TransportErrorMsg) StreamResult {
	if c.lifecycle == lifecycleClosed {
		return StreamResult{}
	}
	c.closeAllStreamsSilentlyLocked()
	c.lifecycle = lifecycleClosed
	c.enc.Release()
	return StreamResult{Err: NewTransportError(m.Reason, m.Err)}
}

func (c *Connection) closeAllStreamsSilentlyLocked() {
	c.streams.EachOpen(func(s *h2stream.Stream) {
		c.closeStreamNow(s)
		if ref, ok := s.Ref.(RequestRef); ok {
			if rs, ok := c.spans[ref]; ok {
				rs.end(0, nil)
				delete(c.spans, ref)
			}
		}
	})
}

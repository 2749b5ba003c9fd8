package h2c

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// DecodeBody transparently reverses a response body's content-encoding.
// It is not called by the core itself — the façade never rewrites a
// DataResponse chunk in flight, since callers may want the raw bytes for
// checksumming — but is exposed for callers who asked for one of the
// encodings AcceptEncoding advertises.
func DecodeBody(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("unsupported content-encoding: %q", encoding)
	}
}

// AcceptEncoding is the default `accept-encoding` value Request adds to a
// request's headers when the caller didn't supply one, advertising the two
// codecs DecodeBody can reverse.
const AcceptEncoding = "gzip, br"

package h2stream

import (
	"fmt"
	"strconv"
	"strings"
)

// connectionSpecificHeaders names the header fields RFC 7540 §8.1.2.2
// forbids on an HTTP/2 connection regardless of direction.
var connectionSpecificHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// ValidateResponseHeaders checks a server's non-trailer HEADERS block:
// lowercase names, pseudo-headers only before regular ones, exactly one
// :status, and no connection-specific headers. It returns the numeric
// status on success.
func ValidateResponseHeaders(headers [][2]string) (status int, err error) {
	seenRegular := false
	hasStatus := false

	for _, h := range headers {
		name, value := h[0], h[1]
		if name != strings.ToLower(name) {
			return 0, fmt.Errorf("header field name must be lowercase: %s", name)
		}

		if strings.HasPrefix(name, ":") {
			if seenRegular {
				return 0, fmt.Errorf("pseudo-header %s appears after regular header", name)
			}
			if name != ":status" {
				return 0, fmt.Errorf("unexpected pseudo-header in response: %s", name)
			}
			if hasStatus {
				return 0, fmt.Errorf("duplicate :status pseudo-header")
			}
			code, convErr := strconv.Atoi(value)
			if convErr != nil {
				return 0, fmt.Errorf("non-numeric :status value: %s", value)
			}
			status = code
			hasStatus = true
			continue
		}

		seenRegular = true
		if connectionSpecificHeaders[strings.ToLower(name)] {
			return 0, fmt.Errorf("connection-specific header not allowed: %s", name)
		}
	}

	if !hasStatus {
		return 0, errMissingStatus
	}
	return status, nil
}

var errMissingStatus = fmt.Errorf("missing :status pseudo-header")

// IsMissingStatus reports whether err is the specific failure
// ValidateResponseHeaders raises when no :status pseudo-header was
// present, letting the caller map it to the dedicated error reason rather
// than a generic protocol_error.
func IsMissingStatus(err error) bool { return err == errMissingStatus }

// ValidateTrailerHeaders checks a trailing HEADERS block (no END_HEADERS
// pseudo-headers allowed, same connection-specific-header ban). It
// returns the first offending (name, value) pair on failure so the
// caller can build an unallowed_trailing_header error.
func ValidateTrailerHeaders(headers [][2]string) (name, value string, ok bool) {
	for _, h := range headers {
		n, v := h[0], h[1]
		if strings.HasPrefix(n, ":") {
			return n, v, false
		}
		if connectionSpecificHeaders[strings.ToLower(n)] {
			return n, v, false
		}
	}
	return "", "", true
}

// JoinCookies rewrites headers so that repeated "cookie" entries are
// merged, in order of appearance, into one entry joined with "; " —
// the join RFC 7540 §8.1.2.5 requires HTTP/2 implementations to perform
// on behalf of HTTP/1.1 semantics. Non-cookie headers keep their relative
// order; the merged cookie entry takes the position of its first
// occurrence.
func JoinCookies(headers [][2]string) [][2]string {
	out := make([][2]string, 0, len(headers))
	cookieIdx := -1
	var parts []string
	for _, h := range headers {
		if strings.ToLower(h[0]) == "cookie" {
			if cookieIdx == -1 {
				cookieIdx = len(out)
				out = append(out, h)
			}
			parts = append(parts, h[1])
			continue
		}
		out = append(out, h)
	}
	if cookieIdx >= 0 {
		out[cookieIdx] = [2]string{"cookie", strings.Join(parts, "; ")}
	}
	return out
}

// StripPseudoHeaders removes any header whose name starts with ":",
// matching the façade guarantee that pseudo-headers never reach the
// caller.
func StripPseudoHeaders(headers [][2]string) [][2]string {
	out := make([][2]string, 0, len(headers))
	for _, h := range headers {
		if strings.HasPrefix(h[0], ":") {
			continue
		}
		out = append(out, h)
	}
	return out
}

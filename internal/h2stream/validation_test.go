package h2stream

import "testing"

func TestValidateResponseHeadersHappyPath(t *testing.T) {
	status, err := ValidateResponseHeaders([][2]string{
		{":status", "200"},
		{"content-type", "text/plain"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if status != 200 {
		t.Fatalf("got %d, want 200", status)
	}
}

func TestValidateResponseHeadersMissingStatus(t *testing.T) {
	_, err := ValidateResponseHeaders([][2]string{{"content-type", "text/plain"}})
	if !IsMissingStatus(err) {
		t.Fatalf("got %v, want missing-status error", err)
	}
}

func TestValidateResponseHeadersPseudoAfterRegular(t *testing.T) {
	_, err := ValidateResponseHeaders([][2]string{
		{"content-type", "text/plain"},
		{":status", "200"},
	})
	if err == nil {
		t.Fatal("want error when a pseudo-header trails a regular header")
	}
}

func TestValidateResponseHeadersRejectsUppercase(t *testing.T) {
	_, err := ValidateResponseHeaders([][2]string{
		{":status", "200"},
		{"Content-Type", "text/plain"},
	})
	if err == nil {
		t.Fatal("want error for a non-lowercase header name")
	}
}

func TestValidateResponseHeadersRejectsConnectionSpecific(t *testing.T) {
	_, err := ValidateResponseHeaders([][2]string{
		{":status", "200"},
		{"connection", "close"},
	})
	if err == nil {
		t.Fatal("want error for a connection-specific header")
	}
}

func TestValidateTrailerHeadersRejectsPseudoHeader(t *testing.T) {
	_, _, ok := ValidateTrailerHeaders([][2]string{{":status", "200"}})
	if ok {
		t.Fatal("want trailer validation to reject pseudo-headers")
	}
}

func TestValidateTrailerHeadersAcceptsRegular(t *testing.T) {
	_, _, ok := ValidateTrailerHeaders([][2]string{{"x-checksum", "abc"}})
	if !ok {
		t.Fatal("want plain trailer to validate")
	}
}

func TestJoinCookiesMergesAtFirstOccurrence(t *testing.T) {
	in := [][2]string{
		{"cookie", "a=1"},
		{"x-trace", "t"},
		{"cookie", "b=2"},
	}
	out := JoinCookies(in)
	if len(out) != 2 {
		t.Fatalf("got %d headers, want 2", len(out))
	}
	if out[0] != [2]string{"cookie", "a=1; b=2"} {
		t.Fatalf("got %v", out[0])
	}
	if out[1] != [2]string{"x-trace", "t"} {
		t.Fatalf("got %v", out[1])
	}
}

func TestJoinCookiesNoCookies(t *testing.T) {
	in := [][2]string{{"x-trace", "t"}}
	out := JoinCookies(in)
	if len(out) != 1 || out[0] != in[0] {
		t.Fatalf("got %v", out)
	}
}

func TestStripPseudoHeadersRemovesColonPrefixed(t *testing.T) {
	out := StripPseudoHeaders([][2]string{
		{":status", "200"},
		{"content-type", "text/plain"},
	})
	if len(out) != 1 || out[0][0] != "content-type" {
		t.Fatalf("got %v", out)
	}
}

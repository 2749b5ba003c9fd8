package hpack

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	headers := [][2]string{
		{":status", "200"},
		{"content-type", "text/plain"},
		{"x-trace-id", "abc123"},
	}

	enc := NewEncoder(4096)
	defer enc.Release()
	block, err := enc.Encode(headers)
	if err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(4096)
	if err := dec.Write(block); err != nil {
		t.Fatal(err)
	}
	got := dec.Fields()
	if len(got) != len(headers) {
		t.Fatalf("got %d fields, want %d", len(got), len(headers))
	}
	for i, h := range headers {
		if got[i] != h {
			t.Fatalf("field %d: got %v, want %v", i, got[i], h)
		}
	}
}

func TestDecoderAcrossContinuationSplit(t *testing.T) {
	headers := [][2]string{{"foo", "bar"}, {"baz", "bong"}}
	enc := NewEncoder(4096)
	defer enc.Release()
	block, err := enc.Encode(headers)
	if err != nil {
		t.Fatal(err)
	}
	mid := len(block) / 2

	dec := NewDecoder(4096)
	if err := dec.Write(block[:mid]); err != nil {
		t.Fatal(err)
	}
	if err := dec.Write(block[mid:]); err != nil {
		t.Fatal(err)
	}
	got := dec.Fields()
	if len(got) != 2 || got[0] != headers[0] || got[1] != headers[1] {
		t.Fatalf("got %v", got)
	}
}

func TestDecoderMaxHeaderListSize(t *testing.T) {
	enc := NewEncoder(4096)
	defer enc.Release()
	block, err := enc.Encode([][2]string{{"x", "this value is long enough to matter"}})
	if err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(4096)
	dec.SetMaxHeaderListSize(10)
	if err := dec.Write(block); err == nil {
		t.Fatal("want error when decoded header list exceeds the configured limit")
	}
}

func TestResetClearsFieldsNotTable(t *testing.T) {
	enc := NewEncoder(4096)
	defer enc.Release()
	block, _ := enc.Encode([][2]string{{"a", "b"}})

	dec := NewDecoder(4096)
	_ = dec.Write(block)
	dec.Reset()
	if len(dec.Fields()) != 0 {
		t.Fatal("Reset should clear the field list")
	}

	again, _ := enc.Encode([][2]string{{"a", "b"}})
	if err := dec.Write(again); err != nil {
		t.Fatalf("dynamic table entry should survive Reset: %v", err)
	}
}

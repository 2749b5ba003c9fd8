package flowctl

import "testing"

func TestAddRejectsOverflowAboveMax(t *testing.T) {
	w := New(MaxWindow - 10)
	if err := w.Add(100); err == nil {
		t.Fatal("want overflow error when increment pushes window above MaxWindow")
	}
}

func TestAddAllowsNegativeDelta(t *testing.T) {
	w := New(1000)
	if err := w.Add(-1500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Size() != MinWindow {
		t.Fatalf("got %d, want saturated at MinWindow", w.Size())
	}
}

func TestApplyInitialWindowSizeChangeAdjustsSendOnly(t *testing.T) {
	p := NewPair()
	beforeRecv := p.Recv.Size()
	if err := p.ApplyInitialWindowSizeChange(65535, 100000); err != nil {
		t.Fatal(err)
	}
	if p.Send.Size() != 100000 {
		t.Fatalf("got send window %d, want 100000", p.Send.Size())
	}
	if p.Recv.Size() != beforeRecv {
		t.Fatal("recv window should be untouched by a peer SETTINGS change")
	}
}

func TestConsumeDeductsFromWindow(t *testing.T) {
	w := New(100)
	w.Consume(30)
	if w.Size() != 70 {
		t.Fatalf("got %d, want 70", w.Size())
	}
}

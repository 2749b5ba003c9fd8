package h2stream

import "testing"

func TestAllocateLocalAssignsOddMonotonicIDs(t *testing.T) {
	table := NewTable(0)
	s1, err := table.AllocateLocal("ref1", 65535)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := table.AllocateLocal("ref2", 65535)
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != 1 || s2.ID != 3 {
		t.Fatalf("got ids %d, %d, want 1, 3", s1.ID, s2.ID)
	}
}

func TestAllocateLocalEnforcesConcurrencyCap(t *testing.T) {
	table := NewTable(1)
	if _, err := table.AllocateLocal("ref1", 65535); err != nil {
		t.Fatal(err)
	}
	if _, err := table.AllocateLocal("ref2", 65535); err == nil {
		t.Fatal("want error once the concurrency cap is reached")
	}
}

func TestAllocateLocalCapIgnoresClosedStreams(t *testing.T) {
	table := NewTable(1)
	s1, err := table.AllocateLocal("ref1", 65535)
	if err != nil {
		t.Fatal(err)
	}
	s1.State = StateClosed

	if _, err := table.AllocateLocal("ref2", 65535); err != nil {
		t.Fatalf("closed stream should not count against the cap: %v", err)
	}
}

func TestByRefLooksUpByOpaqueHandle(t *testing.T) {
	table := NewTable(0)
	type ref struct{ n int }
	r := ref{n: 1}
	s, err := table.AllocateLocal(r, 65535)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := table.ByRef(r)
	if !ok || got.ID != s.ID {
		t.Fatalf("got %v, %v, want stream %d", got, ok, s.ID)
	}
}

func TestDeleteRemovesBothIndexes(t *testing.T) {
	table := NewTable(0)
	s, err := table.AllocateLocal("ref1", 65535)
	if err != nil {
		t.Fatal(err)
	}
	table.Delete(s.ID)
	if _, ok := table.ByID(s.ID); ok {
		t.Fatal("stream should be gone by id")
	}
	if _, ok := table.ByRef("ref1"); ok {
		t.Fatal("stream should be gone by ref")
	}
}

func TestIDsAboveOnlyCountsLocalNonTerminal(t *testing.T) {
	table := NewTable(0)
	s1, _ := table.AllocateLocal("ref1", 65535)
	s2, _ := table.AllocateLocal("ref2", 65535)
	s3, _ := table.AllocateLocal("ref3", 65535)
	s2.State = StateClosed

	ids := table.IDsAbove(0)
	if len(ids) != 2 || ids[0] != s1.ID || ids[1] != s3.ID {
		t.Fatalf("got %v, want [%d %d]", ids, s1.ID, s3.ID)
	}
}

func TestEachOpenVisitsAscending(t *testing.T) {
	table := NewTable(0)
	_, _ = table.AllocateLocal("ref1", 65535)
	_, _ = table.AllocateLocal("ref2", 65535)
	_, _ = table.AllocateLocal("ref3", 65535)

	var seen []uint32
	table.EachOpenLocal(func(s *Stream) { seen = append(seen, s.ID) })
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 3 || seen[2] != 5 {
		t.Fatalf("got %v", seen)
	}
}

func TestAllocateRemoteTracksLastPeerPush(t *testing.T) {
	table := NewTable(0)
	s, err := table.AllocateRemote(2, "push1", 65535)
	if err != nil {
		t.Fatalf("AllocateRemote: %v", err)
	}
	if s.State != StateReservedRemote {
		t.Fatalf("got state %v, want reserved_remote", s.State)
	}
	if _, err := table.AllocateRemote(4, "push2", 65535); err != nil {
		t.Fatalf("AllocateRemote: %v", err)
	}
	if table.lastPeerPush != 4 {
		t.Fatalf("got lastPeerPush %d, want 4", table.lastPeerPush)
	}
}

func TestAllocateRemoteRejectsMalformedPromises(t *testing.T) {
	table := NewTable(0)
	if _, err := table.AllocateRemote(3, "odd", 65535); err == nil {
		t.Fatal("want error for an odd promised stream id")
	}
	if _, err := table.AllocateRemote(2, "first", 65535); err != nil {
		t.Fatalf("AllocateRemote: %v", err)
	}
	if _, err := table.AllocateRemote(2, "dup", 65535); err == nil {
		t.Fatal("want error for a duplicate promised stream id")
	}
	if _, err := table.AllocateRemote(2, "notgreater", 65535); err == nil {
		t.Fatal("want error for a promised id not strictly greater than the last reserved one")
	}
}

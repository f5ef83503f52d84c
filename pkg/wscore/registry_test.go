package wscore

import (
	"testing"
)

func newTestConn(t *testing.T, reg *Registry) *Conn {
	t.Helper()
	h, err := reg.NextHandle()
	if err != nil {
		t.Fatalf("NextHandle: %v", err)
	}
	c := newConn(h, NewSocket(nil), "127.0.0.1:0")
	reg.Insert(c)
	return c
}

func TestRegistryHandleMonotonicity(t *testing.T) {
	reg := NewRegistry(0)
	var last Handle
	for i := 0; i < 100; i++ {
		h, err := reg.NextHandle()
		if err != nil {
			t.Fatalf("NextHandle: %v", err)
		}
		if h <= last {
			t.Fatalf("handle %d not strictly greater than previous %d", h, last)
		}
		last = h
	}
}

func TestRegistryHandleSpaceExhausted(t *testing.T) {
	reg := NewRegistry(0)
	reg.lastHandle = maxHandle
	if _, err := reg.NextHandle(); err == nil {
		t.Fatal("expected an error once the handle space is exhausted")
	}
}

func TestRegistryInsertFindDelete(t *testing.T) {
	reg := NewRegistry(0)
	conns := make([]*Conn, 0, 20)
	for i := 0; i < 20; i++ {
		conns = append(conns, newTestConn(t, reg))
	}

	if got := reg.Len(); got != 20 {
		t.Fatalf("Len() = %d, want 20", got)
	}

	for _, c := range conns {
		found := reg.Find(c.Handle())
		if found != c {
			t.Fatalf("Find(%d) = %v, want %v", c.Handle(), found, c)
		}
	}

	mid := conns[10]
	deleted := reg.Delete(mid.Handle())
	if deleted != mid {
		t.Fatalf("Delete returned %v, want %v", deleted, mid)
	}
	if reg.Find(mid.Handle()) != nil {
		t.Fatal("deleted connection should no longer be findable")
	}
	if mid.IsValid() {
		t.Fatal("deleted connection's magic tag should be cleared")
	}
	if got := reg.Len(); got != 19 {
		t.Fatalf("Len() after delete = %d, want 19", got)
	}
}

func TestRegistryFindMissing(t *testing.T) {
	reg := NewRegistry(0)
	newTestConn(t, reg)
	if c := reg.Find(Handle(999999)); c != nil {
		t.Fatalf("Find of a never-inserted handle returned %v, want nil", c)
	}
}

func TestRegistrySnapshotIndependence(t *testing.T) {
	reg := NewRegistry(0)
	c1 := newTestConn(t, reg)
	snap := reg.Snapshot()
	newTestConn(t, reg) // insert after snapshot
	if len(snap) != 1 || snap[0] != c1 {
		t.Fatal("Snapshot should reflect only what was present at call time")
	}
}

func TestRegistryIdleScanInvokesCallback(t *testing.T) {
	reg := NewRegistry(0)
	c := newTestConn(t, reg)

	var seen *Conn
	reg.OnIdleScan(func(c *Conn) { seen = c })
	reg.runIdleScan()
	if seen != c {
		t.Fatalf("idle scan callback saw %v, want %v", seen, c)
	}
}

package registry

import "testing"

func TestJoinLookup(t *testing.T) {
	r := New()
	r.Join("s1", "stu1", "ex1", "c1")

	e, ok := r.Lookup("s1")
	if !ok {
		t.Fatalf("expected s1 registered")
	}
	if e.StudentID != "stu1" || e.ExamID != "ex1" || e.ConnID != "c1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestRejoinReplacesConnection(t *testing.T) {
	r := New()
	r.Join("s1", "stu1", "ex1", "c1")
	r.Join("s1", "stu1", "ex1", "c2")

	e, _ := r.Lookup("s1")
	if e.ConnID != "c2" {
		t.Fatalf("rejoin should take over, got conn %q", e.ConnID)
	}

	// The stale connection leaving must not evict the fresh one.
	r.LeaveByConn("c1")
	if _, ok := r.Lookup("s1"); !ok {
		t.Fatalf("stale leave evicted live session")
	}
}

func TestLeaveByConn(t *testing.T) {
	r := New()
	r.Join("s1", "stu1", "ex1", "c1")
	r.LeaveByConn("c1")

	if _, ok := r.Lookup("s1"); ok {
		t.Fatalf("expected s1 removed")
	}
	// Leaving twice is a no-op.
	r.LeaveByConn("c1")
}

func TestActiveSnapshot(t *testing.T) {
	r := New()
	r.Join("s1", "stu1", "ex1", "c1")
	r.Join("s2", "stu2", "ex1", "c2")

	if got := len(r.Active()); got != 2 {
		t.Fatalf("expected 2 active, got %d", got)
	}
}

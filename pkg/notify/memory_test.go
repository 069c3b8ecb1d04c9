package notify

import (
	"context"
	"testing"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestEmitToConn(t *testing.T) {
	h := NewMemoryHub()
	ch := h.Connect("c1")

	if err := h.EmitToConn(context.Background(), "c1", Event{Name: "ping"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := drain(ch)
	if len(got) != 1 || got[0].Name != "ping" {
		t.Fatalf("got %+v", got)
	}
}

func TestEmitToUnknownConnIsSilent(t *testing.T) {
	h := NewMemoryHub()
	if err := h.EmitToConn(context.Background(), "nope", Event{Name: "ping"}); err != nil {
		t.Fatalf("emit to unknown conn must not error: %v", err)
	}
}

func TestRoomBroadcast(t *testing.T) {
	h := NewMemoryHub()
	a := h.Connect("a")
	b := h.Connect("b")
	c := h.Connect("c")
	h.JoinRoom("a", "proctor:ex1")
	h.JoinRoom("b", "proctor:ex1")

	if err := h.EmitToRoom(context.Background(), "proctor:ex1", Event{Name: "alert"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Fatalf("room members should each receive the event")
	}
	if len(drain(c)) != 0 {
		t.Fatalf("non-member received a room event")
	}
}

func TestOrderPreservedPerConnection(t *testing.T) {
	h := NewMemoryHub()
	ch := h.Connect("c1")
	ctx := context.Background()

	h.EmitToConn(ctx, "c1", Event{Name: "cheating_warning"})
	h.EmitToConn(ctx, "c1", Event{Name: "exam_auto_submitted"})

	got := drain(ch)
	if len(got) != 2 || got[0].Name != "cheating_warning" || got[1].Name != "exam_auto_submitted" {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestDisconnectClosesAndCleansRooms(t *testing.T) {
	h := NewMemoryHub()
	ch := h.Connect("c1")
	h.JoinRoom("c1", "proctor:ex1")
	h.Disconnect("c1")

	if _, open := <-ch; open {
		t.Fatalf("channel should be closed on disconnect")
	}
	// Broadcast to the now-empty room must not panic.
	if err := h.EmitToRoom(context.Background(), "proctor:ex1", Event{Name: "alert"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewMemoryHub()
	h.Connect("slow")
	ctx := context.Background()
	for i := 0; i < connBuffer+10; i++ {
		// Must never block even though nobody is draining.
		if err := h.EmitToConn(ctx, "slow", Event{Name: "tick"}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
}

package notify

import (
	"context"
	"sync"
)

// connBuffer is the per-connection event buffer. A consumer that falls
// this far behind starts losing events instead of stalling emitters.
const connBuffer = 32

// MemoryHub is the in-process Hub. Each connection owns a buffered
// channel that a transport handler (SSE) drains.
type MemoryHub struct {
	mu    sync.RWMutex
	conns map[string]chan Event
	rooms map[string]map[string]struct{} // room -> conn ids
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		conns: make(map[string]chan Event),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Connect registers a connection and returns its event channel. The
// channel is closed by Disconnect.
func (h *MemoryHub) Connect(connID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[connID]; ok {
		close(old)
	}
	ch := make(chan Event, connBuffer)
	h.conns[connID] = ch
	return ch
}

// Disconnect drops a connection and its room memberships.
func (h *MemoryHub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[connID]; ok {
		close(ch)
		delete(h.conns, connID)
	}
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// JoinRoom implements Hub.
func (h *MemoryHub) JoinRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// LeaveRoom implements Hub.
func (h *MemoryHub) LeaveRoom(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// EmitToConn implements Hub. Unknown connections and full buffers drop
// the event silently. The send happens under the read lock: Disconnect
// closes channels under the write lock, so a send can never hit a
// closed channel.
func (h *MemoryHub) EmitToConn(_ context.Context, connID string, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.conns[connID]
	if !ok {
		return nil
	}
	select {
	case ch <- evt:
	default:
	}
	return nil
}

// EmitToRoom implements Hub. Same locking contract as EmitToConn.
func (h *MemoryHub) EmitToRoom(_ context.Context, room string, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.rooms[room] {
		ch, ok := h.conns[connID]
		if !ok {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Package registry tracks live proctored sessions: which transport
// connection, student, and exam each active session belongs to. State is
// process-local; after a restart clients rejoin on reconnect.
package registry

import "sync"

// Entry is the runtime record for one joined session.
type Entry struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	ExamID    string `json:"exam_id"`
	ConnID    string `json:"-"`
}

// Registry is a concurrency-safe session -> connection map.
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]Entry
	byConn    map[string]string // conn id -> session id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		bySession: make(map[string]Entry),
		byConn:    make(map[string]string),
	}
}

// Join registers a session. Re-joining with the same session id replaces
// the previous entry, which is how reconnects take over a session.
func (r *Registry) Join(sessionID, studentID, examID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bySession[sessionID]; ok {
		delete(r.byConn, prev.ConnID)
	}
	r.bySession[sessionID] = Entry{SessionID: sessionID, StudentID: studentID, ExamID: examID, ConnID: connID}
	r.byConn[connID] = sessionID
}

// LeaveByConn removes whatever session the connection had joined.
// Unknown connections are a no-op.
func (r *Registry) LeaveByConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	// Only drop the session entry if it still points at this connection;
	// a rejoin may already have replaced it.
	if e, ok := r.bySession[sessionID]; ok && e.ConnID == connID {
		delete(r.bySession, sessionID)
	}
}

// Lookup returns the entry for a session, if registered.
func (r *Registry) Lookup(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bySession[sessionID]
	return e, ok
}

// Active returns a snapshot of all registered sessions, for the live
// proctoring dashboard.
func (r *Registry) Active() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.bySession))
	for _, e := range r.bySession {
		out = append(out, e)
	}
	return out
}

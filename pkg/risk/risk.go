// Package risk owns per-session cumulative risk state. It applies
// severity-weighted score increments for every materialized alert and
// performs the threshold-crossing auto-submit transition exactly once.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"examshield/pkg/alert"
)

// State is the submission state of an exam session.
type State string

const (
	StateActive        State = "active"
	StateSubmitted     State = "submitted"
	StateAutoSubmitted State = "auto_submitted"
)

// Terminal reports whether no further score mutation is permitted.
func (s State) Terminal() bool { return s == StateSubmitted || s == StateAutoSubmitted }

// Session is one student's attempt at one exam. Score is monotonically
// non-decreasing; TerminatedAt is set once and immutable after.
type Session struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	ExamID       string     `json:"exam_id"`
	Score        int        `json:"cheating_score"`
	TotalAlerts  int        `json:"total_alerts"`
	State        State      `json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}

// EventRecord is one materialized monitoring event, immutable once
// created.
type EventRecord struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Kind        alert.Kind      `json:"event_type"`
	Timestamp   time.Time       `json:"timestamp"`
	Confidence  float64         `json:"confidence"`
	Severity    int             `json:"severity"`
	Description string          `json:"description"`
	EvidenceRef string          `json:"evidence_url,omitempty"`
	Raw         json.RawMessage `json:"ai_analysis,omitempty"`
}

// Decision is the outcome of recording one event.
type Decision struct {
	SessionID   string `json:"session_id"`
	Score       int    `json:"cheating_score"`
	TotalAlerts int    `json:"total_alerts"`
	Threshold   int    `json:"threshold"`
	// AutoSubmit is true once the cumulative score has reached the exam
	// threshold.
	AutoSubmit bool `json:"auto_submit"`
	// FirstTransition is true for exactly one Decision per session: the
	// one whose increment crossed the threshold.
	FirstTransition bool `json:"-"`
}

// Applied is what the store reports after durably committing an event.
type Applied struct {
	Score           int
	TotalAlerts     int
	AutoSubmitted   bool
	FirstTransition bool
	TerminatedAt    *time.Time
}

// Store is the persistence boundary. ApplyEvent must be atomic: the
// event insert, the score increment, and the threshold check-and-submit
// commit together or not at all, and a session already submitted must
// yield ErrSessionSubmitted without side effects.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	ExamThreshold(ctx context.Context, examID string) (int, error)
	ApplyEvent(ctx context.Context, ev EventRecord, threshold int) (Applied, error)
	MarkSubmitted(ctx context.Context, sessionID string, auto bool) (Session, error)
}

var (
	// ErrSessionNotFound means the session id is unknown to the store.
	ErrSessionNotFound = errors.New("risk: session not found")
	// ErrSessionSubmitted means the session is terminal; the event is a
	// no-op.
	ErrSessionSubmitted = errors.New("risk: session already submitted")
	// ErrKindNone rejects attempts to record a non-event.
	ErrKindNone = errors.New("risk: alert kind none never records")
)

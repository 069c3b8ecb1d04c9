package risk

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"examshield/pkg/alert"
)

const stripeCount = 32

// Engine serializes score mutations per session and caches session and
// exam-threshold state read-through from the Store. Different sessions
// never block one another: a lock stripe keyed by session id guards each
// record path, and the persistence write inside it is the only
// suspension point.
type Engine struct {
	store Store

	// onSuspicious runs after every durably recorded event, while the
	// session stripe is still held. Used to reset the good-behavior
	// counter.
	onSuspicious func(sessionID string)

	stripes [stripeCount]sync.Mutex

	mu         sync.RWMutex
	sessions   map[string]Session
	thresholds map[string]int // exam id -> cheating threshold
}

// NewEngine returns an Engine over the given store. onSuspicious may be
// nil.
func NewEngine(store Store, onSuspicious func(sessionID string)) *Engine {
	return &Engine{
		store:        store,
		onSuspicious: onSuspicious,
		sessions:     make(map[string]Session),
		thresholds:   make(map[string]int),
	}
}

func (e *Engine) stripe(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &e.stripes[h.Sum32()%stripeCount]
}

// EventInput describes one alert to record. Kind must not be none.
type EventInput struct {
	SessionID   string
	Kind        alert.Kind
	Confidence  float64
	Severity    int
	Description string
	EvidenceRef string
	Raw         []byte
}

// RecordEvent appends a monitoring event, increments the session's
// cumulative score by the event severity, and decides whether the exam
// auto-submits. The threshold check-and-transition is atomic with the
// increment; once a session is terminal every later call returns
// ErrSessionSubmitted without side effects. Persistence failures are
// returned to the caller as retryable errors and leave no partial state.
func (e *Engine) RecordEvent(ctx context.Context, in EventInput) (Decision, error) {
	if in.Kind == alert.KindNone || !in.Kind.Valid() {
		return Decision{}, ErrKindNone
	}

	mu := e.stripe(in.SessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.session(ctx, in.SessionID)
	if err != nil {
		return Decision{}, err
	}
	if sess.State.Terminal() {
		return Decision{}, ErrSessionSubmitted
	}

	threshold, err := e.threshold(ctx, sess.ExamID)
	if err != nil {
		return Decision{}, err
	}

	ev := EventRecord{
		ID:          uuid.NewString(),
		SessionID:   in.SessionID,
		Kind:        in.Kind,
		Timestamp:   time.Now().UTC(),
		Confidence:  in.Confidence,
		Severity:    clampSeverity(in.Severity),
		Description: in.Description,
		EvidenceRef: in.EvidenceRef,
		Raw:         in.Raw,
	}

	applied, err := e.store.ApplyEvent(ctx, ev, threshold)
	if err != nil {
		// A concurrent auto-submit observed at the store wins; everything
		// else is a retryable persistence failure.
		if err == ErrSessionSubmitted || err == ErrSessionNotFound {
			e.forgetSession(in.SessionID)
			return Decision{}, err
		}
		return Decision{}, fmt.Errorf("risk: commit event: %w", err)
	}

	sess.Score = applied.Score
	sess.TotalAlerts = applied.TotalAlerts
	if applied.AutoSubmitted {
		sess.State = StateAutoSubmitted
		sess.TerminatedAt = applied.TerminatedAt
	}
	e.cacheSession(sess)

	if e.onSuspicious != nil {
		e.onSuspicious(in.SessionID)
	}

	return Decision{
		SessionID:       in.SessionID,
		Score:           applied.Score,
		TotalAlerts:     applied.TotalAlerts,
		Threshold:       threshold,
		AutoSubmit:      applied.AutoSubmitted,
		FirstTransition: applied.FirstTransition,
	}, nil
}

// Submit performs a manual (student-initiated) submission. Idempotent:
// submitting a terminal session returns its frozen state.
func (e *Engine) Submit(ctx context.Context, sessionID string) (Session, error) {
	mu := e.stripe(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.store.MarkSubmitted(ctx, sessionID, false)
	if err != nil {
		return Session{}, err
	}
	e.cacheSession(sess)
	return sess, nil
}

// SessionState returns the engine's view of a session, read through from
// the store when not cached (recovery after restart).
func (e *Engine) SessionState(ctx context.Context, sessionID string) (Session, error) {
	mu := e.stripe(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return e.session(ctx, sessionID)
}

// session must be called with the session's stripe held.
func (e *Engine) session(ctx context.Context, sessionID string) (Session, error) {
	e.mu.RLock()
	sess, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if ok {
		return sess, nil
	}
	sess, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	e.cacheSession(sess)
	return sess, nil
}

func (e *Engine) threshold(ctx context.Context, examID string) (int, error) {
	e.mu.RLock()
	th, ok := e.thresholds[examID]
	e.mu.RUnlock()
	if ok {
		return th, nil
	}
	th, err := e.store.ExamThreshold(ctx, examID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.thresholds[examID] = th
	e.mu.Unlock()
	return th, nil
}

func (e *Engine) cacheSession(sess Session) {
	e.mu.Lock()
	e.sessions[sess.ID] = sess
	e.mu.Unlock()
}

func (e *Engine) forgetSession(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

func clampSeverity(s int) int {
	if s < alert.MinSeverity {
		return alert.MinSeverity
	}
	if s > alert.MaxSeverity {
		return alert.MaxSeverity
	}
	return s
}

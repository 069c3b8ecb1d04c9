package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"examshield/pkg/alert"
	"examshield/pkg/risk"
)

// Exam is the proctored exam definition.
type Exam struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	DurationMinutes   int       `json:"duration_minutes"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	ProctoringEnabled bool      `json:"proctoring_enabled"`
	CheatingThreshold int       `json:"cheating_threshold"`
	CreatedAt         time.Time `json:"created_at"`
}

var (
	errExamNotFound  = errors.New("exam not found")
	errExamNotOpen   = errors.New("exam is not open")
	errProctoringOff = errors.New("proctoring disabled for exam")
)

// PostgresStore persists exams, sessions, and monitoring events. It is
// the durable side of the risk engine: ApplyEvent commits the event
// insert, the score increment, and the threshold transition in one
// transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool, and runs migrations.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exams (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			duration_minutes INT NOT NULL DEFAULT 60,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			proctoring_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			cheating_threshold INT NOT NULL DEFAULT 10,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS exam_sessions (
			id UUID PRIMARY KEY,
			exam_id UUID NOT NULL REFERENCES exams(id),
			student_id TEXT NOT NULL,
			cheating_score INT NOT NULL DEFAULT 0,
			total_alerts INT NOT NULL DEFAULT 0,
			is_submitted BOOLEAN NOT NULL DEFAULT FALSE,
			auto_submitted BOOLEAN NOT NULL DEFAULT FALSE,
			start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			end_time TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_exam ON exam_sessions(exam_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_student ON exam_sessions(student_id, exam_id)`,
		`CREATE TABLE IF NOT EXISTS monitoring_events (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES exam_sessions(id),
			event_type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			severity INT NOT NULL DEFAULT 1,
			description TEXT NOT NULL DEFAULT '',
			evidence_url TEXT NOT NULL DEFAULT '',
			ai_analysis JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON monitoring_events(session_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateExam inserts an exam and returns it with the generated id.
func (s *PostgresStore) CreateExam(ctx context.Context, ex Exam) (Exam, error) {
	ex.ID = uuid.NewString()
	if ex.CheatingThreshold <= 0 {
		ex.CheatingThreshold = 10
	}
	if ex.DurationMinutes <= 0 {
		ex.DurationMinutes = 60
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (id, title, duration_minutes, start_time, end_time, proctoring_enabled, cheating_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		ex.ID, ex.Title, ex.DurationMinutes, ex.StartTime, ex.EndTime, ex.ProctoringEnabled, ex.CheatingThreshold,
	).Scan(&ex.CreatedAt)
	if err != nil {
		return Exam{}, fmt.Errorf("insert exam: %w", err)
	}
	return ex, nil
}

// GetExam loads one exam by id.
func (s *PostgresStore) GetExam(ctx context.Context, examID string) (Exam, error) {
	var ex Exam
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, duration_minutes, start_time, end_time, proctoring_enabled, cheating_threshold, created_at
		FROM exams WHERE id = $1`, examID,
	).Scan(&ex.ID, &ex.Title, &ex.DurationMinutes, &ex.StartTime, &ex.EndTime, &ex.ProctoringEnabled, &ex.CheatingThreshold, &ex.CreatedAt)
	if err == sql.ErrNoRows {
		return Exam{}, errExamNotFound
	}
	if err != nil {
		return Exam{}, fmt.Errorf("load exam: %w", err)
	}
	return ex, nil
}

// ExamThreshold implements risk.Store.
func (s *PostgresStore) ExamThreshold(ctx context.Context, examID string) (int, error) {
	var th int
	err := s.db.QueryRowContext(ctx,
		`SELECT cheating_threshold FROM exams WHERE id = $1`, examID).Scan(&th)
	if err == sql.ErrNoRows {
		return 0, errExamNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load threshold: %w", err)
	}
	return th, nil
}

// StartSession begins (or resumes) a student's attempt. An existing
// non-submitted session for the same student and exam is returned as-is,
// so a reconnecting client does not reset its score.
func (s *PostgresStore) StartSession(ctx context.Context, examID, studentID string) (risk.Session, error) {
	ex, err := s.GetExam(ctx, examID)
	if err != nil {
		return risk.Session{}, err
	}
	if !ex.ProctoringEnabled {
		return risk.Session{}, errProctoringOff
	}
	now := time.Now()
	if now.Before(ex.StartTime) || now.After(ex.EndTime) {
		return risk.Session{}, errExamNotOpen
	}

	existing, err := s.activeSession(ctx, examID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, risk.ErrSessionNotFound) {
		return risk.Session{}, err
	}

	id := uuid.NewString()
	var started time.Time
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO exam_sessions (id, exam_id, student_id)
		VALUES ($1, $2, $3)
		RETURNING start_time`, id, examID, studentID).Scan(&started)
	if err != nil {
		return risk.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return risk.Session{
		ID:        id,
		StudentID: studentID,
		ExamID:    examID,
		State:     risk.StateActive,
		StartedAt: started,
	}, nil
}

func (s *PostgresStore) activeSession(ctx context.Context, examID, studentID string) (risk.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, exam_id, cheating_score, total_alerts, is_submitted, auto_submitted, start_time, end_time
		FROM exam_sessions
		WHERE exam_id = $1 AND student_id = $2 AND NOT is_submitted
		ORDER BY start_time DESC LIMIT 1`, examID, studentID)
	return scanSession(row)
}

// LoadSession implements risk.Store.
func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (risk.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, exam_id, cheating_score, total_alerts, is_submitted, auto_submitted, start_time, end_time
		FROM exam_sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (risk.Session, error) {
	var (
		sess          risk.Session
		isSubmitted   bool
		autoSubmitted bool
		endTime       sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.StudentID, &sess.ExamID, &sess.Score, &sess.TotalAlerts,
		&isSubmitted, &autoSubmitted, &sess.StartedAt, &endTime)
	if err == sql.ErrNoRows {
		return risk.Session{}, risk.ErrSessionNotFound
	}
	if err != nil {
		return risk.Session{}, fmt.Errorf("scan session: %w", err)
	}
	switch {
	case autoSubmitted:
		sess.State = risk.StateAutoSubmitted
	case isSubmitted:
		sess.State = risk.StateSubmitted
	default:
		sess.State = risk.StateActive
	}
	if endTime.Valid {
		t := endTime.Time
		sess.TerminatedAt = &t
	}
	return sess, nil
}

// ApplyEvent implements risk.Store. The score increment is guarded by
// NOT is_submitted, so a session that went terminal under a concurrent
// writer yields ErrSessionSubmitted and the transaction rolls back with
// no event recorded. When the incremented score reaches the threshold
// the same transaction flips the session to auto-submitted, so the
// event, the score, and the transition are durable together.
func (s *PostgresStore) ApplyEvent(ctx context.Context, ev risk.EventRecord, threshold int) (risk.Applied, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return risk.Applied{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		score  int
		alerts int
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE exam_sessions
		SET cheating_score = cheating_score + $2, total_alerts = total_alerts + 1
		WHERE id = $1 AND NOT is_submitted
		RETURNING cheating_score, total_alerts`, ev.SessionID, ev.Severity).Scan(&score, &alerts)
	if err == sql.ErrNoRows {
		var submitted bool
		err = tx.QueryRowContext(ctx,
			`SELECT is_submitted FROM exam_sessions WHERE id = $1`, ev.SessionID).Scan(&submitted)
		if err == sql.ErrNoRows {
			return risk.Applied{}, risk.ErrSessionNotFound
		}
		if err != nil {
			return risk.Applied{}, fmt.Errorf("check session: %w", err)
		}
		return risk.Applied{}, risk.ErrSessionSubmitted
	}
	if err != nil {
		return risk.Applied{}, fmt.Errorf("increment score: %w", err)
	}

	var raw any
	if len(ev.Raw) > 0 {
		raw = []byte(ev.Raw)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitoring_events (id, session_id, event_type, timestamp, confidence, severity, description, evidence_url, ai_analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.SessionID, string(ev.Kind), ev.Timestamp, ev.Confidence, ev.Severity, ev.Description, ev.EvidenceRef, raw)
	if err != nil {
		return risk.Applied{}, fmt.Errorf("insert event: %w", err)
	}

	applied := risk.Applied{Score: score, TotalAlerts: alerts}
	if score >= threshold {
		// The row is locked by the UPDATE above, so this transition is ours.
		var endTime time.Time
		err = tx.QueryRowContext(ctx, `
			UPDATE exam_sessions
			SET is_submitted = TRUE, auto_submitted = TRUE, end_time = NOW()
			WHERE id = $1 AND NOT is_submitted
			RETURNING end_time`, ev.SessionID).Scan(&endTime)
		if err != nil {
			return risk.Applied{}, fmt.Errorf("auto submit: %w", err)
		}
		applied.AutoSubmitted = true
		applied.FirstTransition = true
		applied.TerminatedAt = &endTime
	}

	if err := tx.Commit(); err != nil {
		return risk.Applied{}, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

// MarkSubmitted implements risk.Store. Idempotent: a session that is
// already terminal is returned unchanged.
func (s *PostgresStore) MarkSubmitted(ctx context.Context, sessionID string, auto bool) (risk.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exam_sessions
		SET is_submitted = TRUE, auto_submitted = $2, end_time = NOW()
		WHERE id = $1 AND NOT is_submitted`, sessionID, auto)
	if err != nil {
		return risk.Session{}, fmt.Errorf("mark submitted: %w", err)
	}
	return s.LoadSession(ctx, sessionID)
}

// ListEvents returns a session's monitoring events in timestamp order.
func (s *PostgresStore) ListEvents(ctx context.Context, sessionID string) ([]risk.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, timestamp, confidence, severity, description, evidence_url, ai_analysis
		FROM monitoring_events
		WHERE session_id = $1
		ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []risk.EventRecord
	for rows.Next() {
		var (
			ev   risk.EventRecord
			kind string
			raw  []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &kind, &ev.Timestamp, &ev.Confidence,
			&ev.Severity, &ev.Description, &ev.EvidenceRef, &raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = alert.Kind(kind)
		ev.Raw = raw
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SessionsForExam lists all sessions of one exam, newest first. Used by
// the proctor live view.
func (s *PostgresStore) SessionsForExam(ctx context.Context, examID string) ([]risk.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, exam_id, cheating_score, total_alerts, is_submitted, auto_submitted, start_time, end_time
		FROM exam_sessions
		WHERE exam_id = $1
		ORDER BY start_time DESC`, examID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []risk.Session
	for rows.Next() {
		var (
			sess          risk.Session
			isSubmitted   bool
			autoSubmitted bool
			endTime       sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.StudentID, &sess.ExamID, &sess.Score, &sess.TotalAlerts,
			&isSubmitted, &autoSubmitted, &sess.StartedAt, &endTime); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		switch {
		case autoSubmitted:
			sess.State = risk.StateAutoSubmitted
		case isSubmitted:
			sess.State = risk.StateSubmitted
		default:
			sess.State = risk.StateActive
		}
		if endTime.Valid {
			t := endTime.Time
			sess.TerminatedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

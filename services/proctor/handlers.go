package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"examshield/pkg/auth"
	"examshield/pkg/notify"
	"examshield/pkg/report"
	"examshield/pkg/risk"
	"examshield/pkg/structlog"
)

const ssePingInterval = 25 * time.Second

// examStore is what the HTTP layer needs beyond the risk engine;
// satisfied by PostgresStore.
type examStore interface {
	CreateExam(ctx context.Context, ex Exam) (Exam, error)
	StartSession(ctx context.Context, examID, studentID string) (risk.Session, error)
	ListEvents(ctx context.Context, sessionID string) ([]risk.EventRecord, error)
	SessionsForExam(ctx context.Context, examID string) ([]risk.Session, error)
}

type api struct {
	log      *structlog.Logger
	store    examStore
	mon      *Monitor
	engine   *risk.Engine
	verifier *auth.Verifier
	hub      notify.Hub
	local    *notify.MemoryHub
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/api/exams", a.authed(a.handleCreateExam, "teacher", "admin"))
	mux.HandleFunc("/api/sessions/start", a.authed(a.handleStartSession))
	mux.HandleFunc("/api/sessions/submit", a.authed(a.handleSubmit))
	mux.HandleFunc("/api/sessions/", a.authed(a.handleSessionSubpath))
	mux.HandleFunc("/api/monitor/join", a.authed(a.handleJoin))
	mux.HandleFunc("/api/monitor/leave", a.authed(a.handleLeave))
	mux.HandleFunc("/api/monitor/frame", a.authed(a.handleFrame))
	mux.HandleFunc("/api/monitor/tab-switch", a.authed(a.handleTabSwitch))
	mux.HandleFunc("/api/monitor/live", a.authed(a.handleLiveSessions, "teacher", "admin"))
	mux.HandleFunc("/api/stream", a.handleStream)
}

// authed wraps a handler with JWT verification and an optional role
// allowlist.
func (a *api) authed(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.verifier.VerifyRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if len(roles) > 0 && !roleAllowed(claims.Role, roles) {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	}
}

func roleAllowed(role string, allowed []string) bool {
	for _, r := range allowed {
		if strings.EqualFold(role, r) {
			return true
		}
	}
	return false
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "proctor"})
}

func (a *api) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Title             string    `json:"title"`
		DurationMinutes   int       `json:"duration_minutes"`
		StartTime         time.Time `json:"start_time"`
		EndTime           time.Time `json:"end_time"`
		ProctoringEnabled *bool     `json:"proctoring_enabled"`
		CheatingThreshold int       `json:"cheating_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "title, start_time, end_time required")
		return
	}
	enabled := true
	if req.ProctoringEnabled != nil {
		enabled = *req.ProctoringEnabled
	}
	ex, err := a.store.CreateExam(r.Context(), Exam{
		Title:             req.Title,
		DurationMinutes:   req.DurationMinutes,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		ProctoringEnabled: enabled,
		CheatingThreshold: req.CheatingThreshold,
	})
	if err != nil {
		a.log.Error("create exam failed", structlog.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "create exam failed")
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

func (a *api) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ExamID    string `json:"exam_id"`
		StudentID string `json:"student_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExamID == "" || req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "exam_id and student_id required")
		return
	}
	sess, err := a.store.StartSession(r.Context(), req.ExamID, req.StudentID)
	switch {
	case errors.Is(err, errExamNotFound):
		writeError(w, http.StatusNotFound, "exam not found")
	case errors.Is(err, errExamNotOpen):
		writeError(w, http.StatusConflict, "exam is not open")
	case errors.Is(err, errProctoringOff):
		writeError(w, http.StatusConflict, "proctoring disabled for exam")
	case err != nil:
		a.log.Error("start session failed", structlog.Fields{"exam_id": req.ExamID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "start session failed")
	default:
		writeJSON(w, http.StatusOK, sess)
	}
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	sess, err := a.engine.Submit(r.Context(), req.SessionID)
	if errors.Is(err, risk.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		a.log.Error("submit failed", structlog.Fields{"session_id": req.SessionID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSessionSubpath serves GET /api/sessions/{id},
// GET /api/sessions/{id}/events, and GET /api/sessions/{id}/report.
func (a *api) handleSessionSubpath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	sessionID := parts[0]
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	if len(parts) == 1 {
		sess, err := a.engine.SessionState(r.Context(), sessionID)
		if errors.Is(err, risk.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load session failed")
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	switch parts[1] {
	case "events":
		events, err := a.store.ListEvents(r.Context(), sessionID)
		if err != nil {
			a.log.Error("list events failed", structlog.Fields{"session_id": sessionID, "error": err.Error()})
			writeError(w, http.StatusInternalServerError, "list events failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "events": events})
	case "report":
		events, err := a.store.ListEvents(r.Context(), sessionID)
		if err != nil {
			a.log.Error("report failed", structlog.Fields{"session_id": sessionID, "error": err.Error()})
			writeError(w, http.StatusInternalServerError, "report failed")
			return
		}
		writeJSON(w, http.StatusOK, report.Summarize(sessionID, events))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (a *api) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
		ConnID    string `json:"conn_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.ConnID == "" {
		writeError(w, http.StatusBadRequest, "session_id and conn_id required")
		return
	}
	sess, err := a.engine.SessionState(r.Context(), req.SessionID)
	if errors.Is(err, risk.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load session failed")
		return
	}
	a.mon.Join(req.SessionID, sess.StudentID, sess.ExamID, req.ConnID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (a *api) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ConnID string `json:"conn_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnID == "" {
		writeError(w, http.StatusBadRequest, "conn_id required")
		return
	}
	a.mon.Leave(req.ConnID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (a *api) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID   string `json:"session_id"`
		WebcamFrame string `json:"webcam_frame"`
		ScreenFrame string `json:"screen_frame"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.WebcamFrame == "" {
		writeError(w, http.StatusBadRequest, "session_id and webcam_frame required")
		return
	}
	if err := a.mon.HandleFrame(r.Context(), req.SessionID, req.WebcamFrame, req.ScreenFrame); err != nil {
		a.log.Error("frame processing failed", structlog.Fields{"session_id": req.SessionID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "frame processing failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *api) handleTabSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	err := a.mon.HandleTabSwitch(r.Context(), req.SessionID)
	if errors.Is(err, risk.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		a.log.Error("tab switch failed", structlog.Fields{"session_id": req.SessionID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "tab switch failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (a *api) handleLiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	examID := r.URL.Query().Get("exam_id")
	if examID == "" {
		writeError(w, http.StatusBadRequest, "exam_id required")
		return
	}
	sessions, err := a.store.SessionsForExam(r.Context(), examID)
	if err != nil {
		a.log.Error("live sessions failed", structlog.Fields{"exam_id": examID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	if sessions == nil {
		sessions = []risk.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exam_id": examID, "sessions": sessions})
}

// handleStream is the server-sent-events endpoint. Students receive
// their direct notices; teachers and admins may pass exam_id to join
// that exam's proctor room.
func (a *api) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, err := a.verifier.VerifyRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	connID := r.URL.Query().Get("conn_id")
	if connID == "" {
		connID = uuid.NewString()
	}
	ch := a.local.Connect(connID)
	defer a.local.Disconnect(connID)
	defer a.mon.Leave(connID)

	if examID := r.URL.Query().Get("exam_id"); examID != "" {
		if !roleAllowed(claims.Role, []string{"teacher", "admin"}) {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		a.hub.JoinRoom(connID, notify.ProctorRoom(examID))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: connected\ndata: {\"conn_id\":%q}\n\n", connID)
	flusher.Flush()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()
	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, payload)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examshield/pkg/alert"
	"examshield/pkg/auth"
	"examshield/pkg/feedback"
	"examshield/pkg/notify"
	"examshield/pkg/registry"
	"examshield/pkg/risk"
	"examshield/pkg/structlog"
	"examshield/pkg/throttle"
)

// fakeExamStore backs the HTTP layer in tests; sessions and thresholds
// live in the embedded fakeStore shared with the risk engine.
type fakeExamStore struct {
	*fakeStore
	exams map[string]Exam
}

func newFakeExamStore(threshold int) *fakeExamStore {
	return &fakeExamStore{fakeStore: newFakeStore(threshold), exams: make(map[string]Exam)}
}

func (s *fakeExamStore) CreateExam(_ context.Context, ex Exam) (Exam, error) {
	ex.ID = "exam-" + ex.Title
	ex.CreatedAt = time.Now()
	s.exams[ex.ID] = ex
	return ex, nil
}

func (s *fakeExamStore) StartSession(_ context.Context, examID, studentID string) (risk.Session, error) {
	if _, ok := s.exams[examID]; !ok {
		return risk.Session{}, errExamNotFound
	}
	id := "sess-" + studentID
	s.addSession(id, studentID, examID)
	sess, _ := s.LoadSession(context.Background(), id)
	return sess, nil
}

func (s *fakeExamStore) ListEvents(_ context.Context, sessionID string) ([]risk.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []risk.EventRecord
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeExamStore) SessionsForExam(_ context.Context, examID string) ([]risk.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []risk.Session
	for _, sess := range s.sessions {
		if sess.ExamID == examID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

type apiEnv struct {
	api      *api
	store    *fakeExamStore
	verifier *auth.Verifier
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := newFakeExamStore(10)
	streaks := feedback.NewCounter(feedback.DefaultCadence)
	engine := risk.NewEngine(store, streaks.Reset)
	local := notify.NewMemoryHub()
	verifier := auth.NewVerifier([]byte("test-secret"))
	log := structlog.New("proctor", structlog.LevelError, nil)
	mon := NewMonitor(
		log,
		registry.New(),
		throttle.NewGuard(time.Nanosecond),
		engine,
		streaks,
		local,
		&fakeAnalyzer{fn: func(context.Context) ([]byte, error) { return cleanPayload(), nil }},
		alert.NewNormalizer(alert.DefaultConfidenceThreshold),
		nil,
		newMonitorMetrics(prometheus.NewRegistry()),
	)
	return &apiEnv{
		api: &api{
			log:      log,
			store:    store,
			mon:      mon,
			engine:   engine,
			verifier: verifier,
			hub:      local,
			local:    local,
		},
		store:    store,
		verifier: verifier,
	}
}

func (e *apiEnv) serve(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	mux := http.NewServeMux()
	e.api.routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := e.verifier.Sign(subject, role, time.Minute)
	require.NoError(t, err)
	return tok
}

func TestAPIRejectsMissingToken(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.serve(t, http.MethodPost, "/api/sessions/start", "", map[string]string{"exam_id": "x", "student_id": "y"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPICreateExamRequiresTeacherRole(t *testing.T) {
	env := newAPIEnv(t)
	body := map[string]any{
		"title":      "Calculus Final",
		"start_time": time.Now().Add(-time.Hour),
		"end_time":   time.Now().Add(time.Hour),
	}

	rec := env.serve(t, http.MethodPost, "/api/exams", env.token(t, "alice", "student"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.serve(t, http.MethodPost, "/api/exams", env.token(t, "prof", "teacher"), body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var ex Exam
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ex))
	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, 10, ex.CheatingThreshold)
}

func TestAPIStartSessionAndFetch(t *testing.T) {
	env := newAPIEnv(t)
	env.store.exams["exam1"] = Exam{ID: "exam1", Title: "t"}
	tok := env.token(t, "alice", "student")

	rec := env.serve(t, http.MethodPost, "/api/sessions/start", tok, map[string]string{"exam_id": "exam1", "student_id": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sess risk.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sess))
	assert.Equal(t, risk.StateActive, sess.State)

	rec = env.serve(t, http.MethodGet, "/api/sessions/"+sess.ID, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.serve(t, http.MethodGet, "/api/sessions/nope", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.serve(t, http.MethodPost, "/api/sessions/start", tok, map[string]string{"exam_id": "missing", "student_id": "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPITabSwitchAndReport(t *testing.T) {
	env := newAPIEnv(t)
	env.store.exams["exam1"] = Exam{ID: "exam1"}
	env.store.addSession("s1", "alice", "exam1")
	tok := env.token(t, "alice", "student")

	rec := env.serve(t, http.MethodPost, "/api/monitor/tab-switch", tok, map[string]string{"session_id": "s1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.serve(t, http.MethodGet, "/api/sessions/s1/report", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep struct {
		TotalAlerts    int            `json:"total_alerts"`
		AlertBreakdown map[string]int `json:"alert_breakdown"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	assert.Equal(t, 1, rep.TotalAlerts)
	assert.Equal(t, 1, rep.AlertBreakdown["tab_switch"])

	rec = env.serve(t, http.MethodGet, "/api/sessions/s1/events", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPISubmitIsIdempotent(t *testing.T) {
	env := newAPIEnv(t)
	env.store.addSession("s1", "alice", "exam1")
	tok := env.token(t, "alice", "student")

	rec := env.serve(t, http.MethodPost, "/api/sessions/submit", tok, map[string]string{"session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sess risk.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sess))
	assert.Equal(t, risk.StateSubmitted, sess.State)
	first := sess.TerminatedAt

	rec = env.serve(t, http.MethodPost, "/api/sessions/submit", tok, map[string]string{"session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sess))
	assert.Equal(t, risk.StateSubmitted, sess.State)
	require.NotNil(t, sess.TerminatedAt)
	assert.True(t, sess.TerminatedAt.Equal(*first))
}

func TestAPILiveSessionsTeacherOnly(t *testing.T) {
	env := newAPIEnv(t)
	env.store.addSession("s1", "alice", "exam1")

	rec := env.serve(t, http.MethodGet, "/api/monitor/live?exam_id=exam1", env.token(t, "alice", "student"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.serve(t, http.MethodGet, "/api/monitor/live?exam_id=exam1", env.token(t, "prof", "teacher"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []risk.Session `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Sessions, 1)
}

func TestAPIJoinUnknownSession(t *testing.T) {
	env := newAPIEnv(t)
	tok := env.token(t, "alice", "student")
	rec := env.serve(t, http.MethodPost, "/api/monitor/join", tok, map[string]string{"session_id": "nope", "conn_id": "c1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

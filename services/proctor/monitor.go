package main

import (
	"context"
	"errors"
	"time"

	"examshield/pkg/alert"
	"examshield/pkg/evidence"
	"examshield/pkg/feedback"
	"examshield/pkg/notify"
	"examshield/pkg/registry"
	"examshield/pkg/risk"
	"examshield/pkg/structlog"
	"examshield/pkg/throttle"
)

// Socket event names, kept wire-compatible with the web client.
const (
	eventCheatingWarning  = "cheating_warning"
	eventAutoSubmitted    = "exam_auto_submitted"
	eventCheatingAlert    = "cheating_alert"
	eventPositiveFeedback = "positive_feedback"
)

const tabSwitchSeverity = 2

// frameAnalyzer is the classifier boundary; satisfied by
// classifier.Client.
type frameAnalyzer interface {
	Analyze(ctx context.Context, webcamB64, screenB64 string) ([]byte, error)
}

// Monitor runs the real-time proctoring pipeline: admit a frame,
// classify it, normalize the verdict, score it, and fan out the
// resulting alerts.
type Monitor struct {
	log      *structlog.Logger
	reg      *registry.Registry
	guard    *throttle.Guard
	engine   *risk.Engine
	streaks  *feedback.Counter
	hub      notify.Hub
	analyzer frameAnalyzer
	norm     *alert.Normalizer
	evidence evidence.Store // nil when evidence storage is disabled
	metrics  *monitorMetrics
}

// NewMonitor wires the pipeline.
func NewMonitor(
	log *structlog.Logger,
	reg *registry.Registry,
	guard *throttle.Guard,
	engine *risk.Engine,
	streaks *feedback.Counter,
	hub notify.Hub,
	analyzer frameAnalyzer,
	norm *alert.Normalizer,
	ev evidence.Store,
	metrics *monitorMetrics,
) *Monitor {
	return &Monitor{
		log:      log,
		reg:      reg,
		guard:    guard,
		engine:   engine,
		streaks:  streaks,
		hub:      hub,
		analyzer: analyzer,
		norm:     norm,
		evidence: ev,
		metrics:  metrics,
	}
}

// Join registers a live session connection.
func (m *Monitor) Join(sessionID, studentID, examID, connID string) {
	m.reg.Join(sessionID, studentID, examID, connID)
	m.log.Info("session joined", structlog.Fields{"session_id": sessionID, "student_id": studentID, "exam_id": examID})
}

// Leave drops whatever session the connection had joined.
func (m *Monitor) Leave(connID string) {
	m.reg.LeaveByConn(connID)
}

// HandleFrame is the behavioral-signal entry point. Throttle rejections
// drop the frame silently; classifier failures of any sort are treated
// as a clean check with an error tag in the logs, never as an alert.
// Only persistence failures surface to the caller, as retryable errors.
func (m *Monitor) HandleFrame(ctx context.Context, sessionID, webcamB64, screenB64 string) error {
	if !m.guard.TryAdmit(sessionID, time.Now()) {
		m.metrics.throttleRejected.Inc()
		return nil
	}
	defer m.guard.Release(sessionID)

	start := time.Now()
	defer func() { m.metrics.analysisDuration.Observe(time.Since(start).Seconds()) }()
	m.metrics.framesAnalyzed.Inc()

	raw, err := m.analyzer.Analyze(ctx, webcamB64, screenB64)
	if err != nil {
		m.metrics.classifierErrors.WithLabelValues("transport").Inc()
		m.log.WithContext(ctx).Warn("classifier unavailable, treating frame as clean", structlog.Fields{
			"session_id": sessionID, "error": err.Error(),
		})
		return nil
	}

	verdict, err := m.norm.Normalize(raw)
	if err != nil {
		m.metrics.classifierErrors.WithLabelValues("malformed").Inc()
		m.log.WithContext(ctx).Warn("unparsable classifier output", structlog.Fields{
			"session_id": sessionID, "error": err.Error(),
		})
		return nil
	}

	if !verdict.IsSuspicious || verdict.Kind == alert.KindNone {
		m.cleanCheck(ctx, sessionID)
		return nil
	}

	evidenceRef := ""
	if m.evidence != nil {
		ref, err := m.evidence.StoreFrame(ctx, sessionID, verdict.Kind, webcamB64)
		if err != nil {
			m.log.WithContext(ctx).Warn("evidence store failed, recording event without reference", structlog.Fields{
				"session_id": sessionID, "error": err.Error(),
			})
		} else {
			evidenceRef = ref
		}
	}

	desc := verdict.Description
	if desc == "" {
		desc = "Suspicious activity detected"
	}
	return m.record(ctx, risk.EventInput{
		SessionID:   sessionID,
		Kind:        verdict.Kind,
		Confidence:  verdict.Confidence,
		Severity:    verdict.Severity,
		Description: desc,
		EvidenceRef: evidenceRef,
		Raw:         verdict.Raw,
	})
}

// HandleTabSwitch is the client-reported event entry point. It bypasses
// the classifier and the throttle guard entirely and carries a fixed
// severity and confidence.
func (m *Monitor) HandleTabSwitch(ctx context.Context, sessionID string) error {
	return m.record(ctx, risk.EventInput{
		SessionID:   sessionID,
		Kind:        alert.KindTabSwitch,
		Confidence:  1.0,
		Severity:    tabSwitchSeverity,
		Description: "Student switched browser tab or window",
	})
}

// record commits an event through the risk engine and, only after the
// commit, dispatches the notifications it produced.
func (m *Monitor) record(ctx context.Context, in risk.EventInput) error {
	dec, err := m.engine.RecordEvent(ctx, in)
	if errors.Is(err, risk.ErrSessionSubmitted) {
		// Terminal sessions ignore further events.
		return nil
	}
	if err != nil {
		return err
	}

	m.metrics.alertsTotal.WithLabelValues(string(in.Kind)).Inc()
	if dec.FirstTransition {
		m.metrics.autoSubmits.Inc()
	}
	m.dispatch(ctx, in, dec)
	return nil
}

// dispatch delivers, in order: the warning to the student, the
// termination notice when this event crossed the threshold, and the
// proctor-room broadcast. The student always hears about termination no
// later than the proctors do; a disconnected student only skips the
// direct notices.
func (m *Monitor) dispatch(ctx context.Context, in risk.EventInput, dec risk.Decision) {
	sess, err := m.engine.SessionState(ctx, in.SessionID)
	if err != nil {
		m.log.WithContext(ctx).Error("dispatch: session state unavailable", structlog.Fields{
			"session_id": in.SessionID, "error": err.Error(),
		})
		return
	}

	if entry, ok := m.reg.Lookup(in.SessionID); ok {
		_ = m.hub.EmitToConn(ctx, entry.ConnID, notify.Event{Name: eventCheatingWarning, Data: map[string]any{
			"description":    in.Description,
			"alert_type":     string(in.Kind),
			"severity":       in.Severity,
			"warning_count":  dec.TotalAlerts,
			"cheating_score": dec.Score,
			"threshold":      dec.Threshold,
		}})
		if dec.FirstTransition {
			_ = m.hub.EmitToConn(ctx, entry.ConnID, notify.Event{Name: eventAutoSubmitted, Data: map[string]any{
				"reason":         "Cheating threshold exceeded",
				"cheating_score": dec.Score,
			}})
		}
	}

	_ = m.hub.EmitToRoom(ctx, notify.ProctorRoom(sess.ExamID), notify.Event{Name: eventCheatingAlert, Data: map[string]any{
		"session_id":     in.SessionID,
		"student_id":     sess.StudentID,
		"event_type":     string(in.Kind),
		"description":    in.Description,
		"confidence":     in.Confidence,
		"severity":       in.Severity,
		"cheating_score": dec.Score,
		"auto_submitted": dec.AutoSubmit,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"evidence_url":   in.EvidenceRef,
	}})
}

// cleanCheck runs on the non-suspicious path: bump the good-behavior
// streak and deliver encouragement at the cadence. Best-effort, a
// disconnected student just misses it.
func (m *Monitor) cleanCheck(ctx context.Context, sessionID string) {
	fb, due := m.streaks.Bump(sessionID)
	if !due {
		return
	}
	entry, ok := m.reg.Lookup(sessionID)
	if !ok {
		return
	}
	m.metrics.feedbackSent.Inc()
	_ = m.hub.EmitToConn(ctx, entry.ConnID, notify.Event{Name: eventPositiveFeedback, Data: map[string]any{
		"message":              fb.Message,
		"good_behavior_streak": fb.Streak,
	}})
}

package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnparsable marks classifier output that could not be interpreted as
// structured data at all. Callers log it and treat the frame as clean;
// it must never surface to students or proctors as an alert.
var ErrUnparsable = errors.New("alert: unparsable classifier payload")

// Normalizer validates and clamps raw classifier output into an Analysis.
// Vision models emit JSON wrapped in markdown fences, prose, or partial
// text; nothing outside the schema propagates past this boundary.
type Normalizer struct {
	// ConfidenceThreshold is the minimum confidence for a suspicious flag
	// to be honored. The final suspicion decision is always
	// "model says suspicious AND confidence >= threshold".
	ConfidenceThreshold float64
}

// NewNormalizer returns a Normalizer with the given confidence threshold.
func NewNormalizer(threshold float64) *Normalizer {
	return &Normalizer{ConfidenceThreshold: threshold}
}

// Normalize converts raw classifier output into a schema-valid Analysis.
// On unparsable input it fails closed: the returned Analysis is
// not-suspicious with confidence 0, and the error wraps ErrUnparsable.
func (n *Normalizer) Normalize(raw []byte) (Analysis, error) {
	body, ok := extractJSONObject(string(raw))
	if !ok {
		return failClosed(), fmt.Errorf("%w: no JSON object in %d bytes", ErrUnparsable, len(raw))
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return failClosed(), fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	a := Analysis{
		Confidence:  clampFloat(coerceFloat(fields["confidence"], DefaultConfidence), 0, 1),
		Severity:    clampInt(coerceInt(fields["severity"], MinSeverity), MinSeverity, MaxSeverity),
		Kind:        ParseKind(coerceString(fields["alert_type"])),
		Issues:      coerceStrings(fields["detected_issues"]),
		Description: truncate(coerceString(fields["description"]), MaxDescriptionLen),
		Raw:         []byte(body),
	}
	a.IsSuspicious = coerceBool(fields["is_suspicious"]) && a.Confidence >= n.ConfidenceThreshold
	return a, nil
}

func failClosed() Analysis {
	return Analysis{IsSuspicious: false, Confidence: 0, Severity: MinSeverity, Kind: KindNone, Issues: []string{}}
}

// extractJSONObject strips markdown fences and surrounding prose, keeping
// the outermost {...} span. Models routinely wrap their JSON this way.
func extractJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if after, found := strings.CutPrefix(s, "```json"); found {
		s = after
	} else if after, found := strings.CutPrefix(s, "```"); found {
		s = after
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func coerceFloat(v any, def float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return def
}

func coerceInt(v any, def int) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return i
		}
	}
	return def
}

func coerceBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(x)))
		return err == nil && b
	case float64:
		return x != 0
	}
	return false
}

func coerceString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// coerceStrings accepts a JSON array, a scalar (wrapped into a one-element
// slice), or nothing (empty slice).
func coerceStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s := coerceString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		s := coerceString(x)
		if s == "" {
			return []string{}
		}
		return []string{s}
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

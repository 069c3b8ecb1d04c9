// Package alert defines the closed alert taxonomy for proctoring events
// and the normalizer that converts raw vision-classifier output into it.
package alert

// Kind is one entry of the closed alert taxonomy. Every monitoring event
// carries exactly one Kind; KindNone means "nothing to report" and never
// materializes as an event.
type Kind string

const (
	KindLookingAway         Kind = "looking_away"
	KindMultiplePeople      Kind = "multiple_people"
	KindPhoneDetected       Kind = "phone_detected"
	KindReadingFromMaterial Kind = "reading_from_material"
	KindTabSwitch           Kind = "tab_switch"
	KindSuspiciousActivity  Kind = "suspicious_activity"
	KindNone                Kind = "none"
)

var validKinds = map[Kind]bool{
	KindLookingAway:         true,
	KindMultiplePeople:      true,
	KindPhoneDetected:       true,
	KindReadingFromMaterial: true,
	KindTabSwitch:           true,
	KindSuspiciousActivity:  true,
	KindNone:                true,
}

// ParseKind maps an arbitrary string onto the taxonomy. Anything outside
// the closed set (including empty or free text) coerces to KindNone.
func ParseKind(s string) Kind {
	k := Kind(s)
	if validKinds[k] {
		return k
	}
	return KindNone
}

// Valid reports whether k is a member of the closed taxonomy.
func (k Kind) Valid() bool { return validKinds[k] }

// Analysis is the schema-valid form of a classifier verdict. All fields
// are within their documented ranges after normalization.
type Analysis struct {
	IsSuspicious bool     `json:"is_suspicious"`
	Confidence   float64  `json:"confidence"`
	Issues       []string `json:"detected_issues"`
	Severity     int      `json:"severity"`
	Description  string   `json:"description"`
	Kind         Kind     `json:"alert_type"`
	// Raw keeps the classifier payload for evidence/debugging. Empty when
	// the payload could not be parsed.
	Raw []byte `json:"-"`
}

const (
	// MaxDescriptionLen bounds the description to keep storage and wire
	// size predictable.
	MaxDescriptionLen = 500

	MinSeverity = 1
	MaxSeverity = 5

	// DefaultConfidence is assumed when the classifier omits the field.
	DefaultConfidence = 0.5

	// DefaultConfidenceThreshold is the minimum confidence for a
	// suspicious verdict to materialize as an alert.
	DefaultConfidenceThreshold = 0.7
)

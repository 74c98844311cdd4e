package violation

import "errors"

// Kind classifies why the engine rejected an operation.
type Kind int

const (
	// KindStructural marks data that is malformed before any row is written
	// (unbalanced transaction, incomplete segments, duplicate code).
	KindStructural Kind = iota
	// KindState marks an illegal lifecycle transition (double posting,
	// mutating a non-terminal segment).
	KindState
	// KindEnvironment marks a missing prerequisite that is retryable after
	// corrective action (period not generated, counter contention).
	KindEnvironment
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindState:
		return "state"
	case KindEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// Error is a typed rule violation. Domain packages declare their sentinel
// errors as violations so callers can branch on the rule identity with
// errors.Is and on the class with KindOf.
type Error struct {
	kind Kind
	rule string
}

func (e *Error) Error() string { return e.rule }

// Kind reports the violation class.
func (e *Error) Kind() Kind { return e.kind }

// Rule reports the stable rule identifier.
func (e *Error) Rule() string { return e.rule }

// Structural declares a structural violation sentinel.
func Structural(rule string) *Error { return &Error{kind: KindStructural, rule: rule} }

// State declares a state violation sentinel.
func State(rule string) *Error { return &Error{kind: KindState, rule: rule} }

// Environment declares an environment violation sentinel.
func Environment(rule string) *Error { return &Error{kind: KindEnvironment, rule: rule} }

// KindOf extracts the violation class from err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var v *Error
	if errors.As(err, &v) {
		return v.kind, true
	}
	return 0, false
}

package types

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindConsistency ErrKind = iota // table/sandbox invariant broken (tag mismatch, forged handle)
	ErrKindResource                   // table or sandbox exhausted
	ErrKindState                      // invalid operation for current state
	ErrKindConfig                     // bad options
)

// String returns the lower-case name of the kind.
func (k ErrKind) String() string {
	switch k {
	case ErrKindConsistency:
		return "consistency"
	case ErrKindResource:
		return "resource"
	case ErrKindState:
		return "state"
	case ErrKindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinels wrapped by the errors raised from the table and sandbox.
var (
	// ErrConsistency is wrapped by every consistency violation. Violations are
	// raised as panics, never returned: continuing past one would mean the
	// sandbox boundary no longer holds.
	ErrConsistency = &Error{Kind: ErrKindConsistency, Msg: "consistency violation"}
	// ErrExhausted indicates a fixed-size region ran out of room.
	ErrExhausted = &Error{Kind: ErrKindResource, Msg: "resource exhausted"}
	// ErrBadState indicates an operation was attempted in the wrong phase.
	ErrBadState = &Error{Kind: ErrKindState, Msg: "invalid state"}
	// ErrBadConfig indicates invalid options.
	ErrBadConfig = &Error{Kind: ErrKindConfig, Msg: "invalid configuration"}
)

// Violation builds the panic value for a consistency violation.
func Violation(msg string) *Error {
	return &Error{Kind: ErrKindConsistency, Msg: msg, Err: ErrConsistency}
}

package core

import "fmt"

// ErrKind tags every façade failure so the TUI/web layer can translate it
// into a user-visible message without string matching.
type ErrKind int

const (
	ErrAgentNotFound ErrKind = iota
	ErrTeamNotFound
	ErrNoSelection
	ErrNoCommandSender
	ErrVirtualAgent
	ErrInvalidInput
	ErrCommand
)

func (k ErrKind) String() string {
	switch k {
	case ErrAgentNotFound:
		return "agent not found"
	case ErrTeamNotFound:
		return "team not found"
	case ErrNoSelection:
		return "no selection"
	case ErrNoCommandSender:
		return "no command sender"
	case ErrVirtualAgent:
		return "virtual agent"
	case ErrInvalidInput:
		return "invalid input"
	default:
		return "command error"
	}
}

// Error is the tagged error every façade operation returns on failure.
type Error struct {
	Kind   ErrKind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the ErrKind from err, or ok=false for foreign errors.
func KindOf(err error) (ErrKind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}

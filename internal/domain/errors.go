package domain

import "fmt"

// Kind classifies a failure for the caller; it decides retry policy,
// never the wording.
type Kind int

const (
	KindTransport Kind = iota
	KindProtocol
	KindAuthentication
	KindTimeout
	KindCapacity
	KindInvalidIdentifier
	KindMedia
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindTimeout:
		return "timeout"
	case KindCapacity:
		return "capacity"
	case KindInvalidIdentifier:
		return "invalid_identifier"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Error is the structured failure delivered through event callbacks.
// It is never thrown across the public API; operations return it or report it.
type Error struct {
	Kind    Kind
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
}

func NewError(kind Kind, message, details string) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

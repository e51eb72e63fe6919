package core

import "errors"

// ErrorKind classifies a login failure for the presentation layer.
type ErrorKind string

const (
	// KindValidation: required input missing. Recoverable, re-prompt.
	KindValidation ErrorKind = "validation"
	// KindTransport: backend or provider unreachable. Recoverable, retry.
	KindTransport ErrorKind = "transport"
	// KindCredential: backend rejected the username/password pair. The
	// backend's message is shown verbatim.
	KindCredential ErrorKind = "credential"
	// KindStateMismatch: the PKCE callback carried an unknown state or a
	// provider error parameter. Treated as a security event; the attempt is
	// aborted and the stored PKCE session is discarded.
	KindStateMismatch ErrorKind = "state_mismatch"
	// KindExchange: the token endpoint rejected the code/verifier pair.
	// Recoverable only by restarting the SSO flow.
	KindExchange ErrorKind = "exchange"
)

// Error is a classified login failure. Message is a single line suitable for
// direct display.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the user may retry the same path without
// restarting the flow.
func (e *Error) Retryable() bool {
	return e.Kind == KindValidation || e.Kind == KindTransport || e.Kind == KindCredential
}

// NewError builds a classified login failure.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError builds a classified login failure that unwraps to cause.
func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// ErrorKindOf returns the kind of err if it is (or wraps) an *Error.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := ErrorKindOf(err)
	return ok && k == kind
}

// Flow guard errors. These never reach the end user; they indicate the caller
// drove the orchestrator out of order.
var (
	// ErrNotReady is returned when a submission arrives before settings have
	// loaded, or after the login path resolved to Disabled.
	ErrNotReady = errors.New("login page is not ready for submissions")
	// ErrAttemptInProgress is returned when a submission arrives while another
	// attempt is still in flight. Concurrent attempts are rejected, never
	// interleaved.
	ErrAttemptInProgress = errors.New("a login attempt is already in progress")
)

package gateway

import "fmt"

// ErrorKind classifies gateway failures so the orchestrator can pick the
// right failure path without inspecting transport details.
type ErrorKind string

const (
	// KindAuthFailed covers any failure to obtain an access token.
	KindAuthFailed ErrorKind = "AUTH_FAILED"
	// KindCreateFailed covers failures creating the remote payment order.
	KindCreateFailed ErrorKind = "CREATE_FAILED"
	// KindCaptureFailed covers failures capturing a remote payment order.
	KindCaptureFailed ErrorKind = "CAPTURE_FAILED"
	// KindLookupFailed covers failures reading a remote order's status.
	KindLookupFailed ErrorKind = "LOOKUP_FAILED"
	// KindAmountMismatch means the gateway captured a different amount than
	// the order authorized.
	KindAmountMismatch ErrorKind = "AMOUNT_MISMATCH"
	// KindUnavailable means the circuit breaker is refusing calls.
	KindUnavailable ErrorKind = "GATEWAY_UNAVAILABLE"
)

// Error is the typed failure returned by every gateway operation. Raw
// transport errors never leave this package unwrapped.
type Error struct {
	Kind       ErrorKind
	Detail     string
	HTTPStatus int   // 0 when the failure happened before a response arrived
	Cause      error // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("gateway: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Transient reports whether the failure is worth retrying: network errors,
// 5xx responses, and 429s. 4xx responses are not.
func (e *Error) Transient() bool {
	if e.HTTPStatus == 0 {
		return e.Cause != nil
	}
	return e.HTTPStatus == 429 || e.HTTPStatus >= 500
}

package orchestrator

import "fmt"

// ErrorKind classifies orchestrator failures for the HTTP layer.
type ErrorKind string

const (
	// KindGatewayUnavailable means the remote payment order could not be
	// created; the local order has been moved to Failed.
	KindGatewayUnavailable ErrorKind = "GATEWAY_UNAVAILABLE"
	// KindCaptureFailed means the capture call failed; the order remains
	// AwaitingCapture and the client may retry with the same ids.
	KindCaptureFailed ErrorKind = "CAPTURE_FAILED"
	// KindAmountMismatch means the gateway captured an amount that differs
	// from the order's authorized grand total.
	KindAmountMismatch ErrorKind = "AMOUNT_MISMATCH"
	// KindInvalidState means the order is not in a state the requested
	// operation applies to (e.g. completing a Failed order).
	KindInvalidState ErrorKind = "ALREADY_PROCESSED_OR_INVALID_STATE"
	// KindInternal covers store failures and other conditions the client
	// cannot act on.
	KindInternal ErrorKind = "INTERNAL"
)

// Error is the orchestrator's typed failure. Gateway and store causes are
// wrapped, never exposed raw to HTTP responses.
type Error struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("checkout: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("checkout: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

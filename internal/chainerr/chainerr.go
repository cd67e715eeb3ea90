// Package chainerr classifies raw ledger-call failures into a closed
// taxonomy of typed errors with retryability and severity.
package chainerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind identifies the failure class of a ledger call.
type Kind string

const (
	KindConnectionFailed  Kind = "connection_failed"
	KindTimeout           Kind = "timeout"
	KindContractError     Kind = "contract_error"
	KindValidationError   Kind = "validation_error"
	KindInsufficientGas   Kind = "insufficient_gas"
	KindNetworkMismatch   Kind = "network_mismatch"
	KindTransactionFailed Kind = "transaction_failed"
	KindInvalidResponse   Kind = "invalid_response"
	KindCircuitOpen       Kind = "circuit_open"
	KindUnauthorized      Kind = "unauthorized_wallet"
	KindCanceled          Kind = "canceled"
)

// Severity ranks errors for alerting and audit purposes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is a classified ledger failure. Immutable once constructed;
// produced only by Classify or the New* constructors.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Severity  Severity
	Details   map[string]any
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match on kind when the target is also a *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a classified error directly. Used where the failure is
// already known (breaker rejection, authority denial) rather than classified.
func New(kind Kind, message string, retryable bool, severity Severity) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable, Severity: severity}
}

// CircuitOpen is the rejection returned while the circuit breaker is open.
// Not retryable: the breaker itself decides when calls may resume.
func CircuitOpen(retryAfter string) *Error {
	return &Error{
		Kind:      KindCircuitOpen,
		Message:   "ledger service temporarily unavailable (circuit open)",
		Retryable: false,
		Severity:  SeverityHigh,
		Details:   map[string]any{"retryAfter": retryAfter},
	}
}

// statusError is implemented by failures carrying an HTTP or RPC status.
type statusError interface {
	error
	StatusCode() int
}

// codeError is implemented by failures carrying a string code
// ("ECONNREFUSED" style) from a transport adapter.
type codeError interface {
	error
	Code() string
}

// Classify turns an arbitrary failure into a *Error. First match wins.
// A nil input returns nil. Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.Canceled) {
		return wrap(err, KindCanceled, "operation canceled by caller", false, SeverityLow)
	}

	if isConnectionRefused(err) {
		return wrap(err, KindConnectionFailed, "cannot connect to ledger service", true, SeverityHigh)
	}

	if isTimeout(err) {
		return wrap(err, KindTimeout, "ledger operation timed out", true, SeverityMedium)
	}

	if status, ok := statusOf(err); ok {
		switch {
		case status >= 500:
			return wrap(err, KindContractError, fmt.Sprintf("ledger service error (status %d)", status), true, SeverityHigh)
		case status >= 400:
			return wrap(err, KindValidationError, fmt.Sprintf("ledger rejected request (status %d)", status), false, SeverityMedium)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "gas"):
		return wrap(err, KindInsufficientGas, "insufficient gas for ledger operation", true, SeverityMedium)
	case strings.Contains(msg, "network") || strings.Contains(msg, "chain id") || strings.Contains(msg, "chainid"):
		return wrap(err, KindNetworkMismatch, "connected to wrong network", false, SeverityHigh)
	case strings.Contains(msg, "transaction") || strings.Contains(msg, "revert"):
		return wrap(err, KindTransactionFailed, "ledger transaction failed", true, SeverityMedium)
	}

	return wrap(err, KindInvalidResponse, "unexpected response from ledger service", true, SeverityMedium)
}

func wrap(cause error, kind Kind, message string, retryable bool, severity Severity) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
		Severity:  severity,
		cause:     cause,
	}
}

func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var code codeError
	if errors.As(err, &code) {
		switch code.Code() {
		case "ECONNREFUSED", "ENOTFOUND", "EHOSTUNREACH":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var code codeError
	if errors.As(err, &code) && code.Code() == "ETIMEDOUT" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func statusOf(err error) (int, bool) {
	var se statusError
	if errors.As(err, &se) {
		return se.StatusCode(), true
	}
	return 0, false
}

// HTTPStatus maps a classified error to the caller-visible HTTP status.
func HTTPStatus(e *Error) int {
	switch e.Kind {
	case KindConnectionFailed, KindTimeout, KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindContractError:
		return http.StatusBadGateway
	case KindValidationError:
		return http.StatusBadRequest
	case KindInsufficientGas:
		return http.StatusPaymentRequired
	case KindNetworkMismatch:
		return http.StatusConflict
	case KindTransactionFailed:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusForbidden
	case KindCanceled:
		// Client closed request (nginx's 499).
		return 499
	default:
		return http.StatusInternalServerError
	}
}

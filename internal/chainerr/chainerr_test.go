package chainerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
)

type httpError struct {
	status int
}

func (e *httpError) Error() string   { return fmt.Sprintf("http error %d", e.status) }
func (e *httpError) StatusCode() int { return e.status }

type adapterError struct {
	code string
}

func (e *adapterError) Error() string { return "adapter failure" }
func (e *adapterError) Code() string  { return e.code }

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestClassify_ConnectionRefused(t *testing.T) {
	cases := []error{
		syscall.ECONNREFUSED,
		&net.OpError{Op: "dial", Err: errors.New("refused")},
		&net.DNSError{Err: "no such host", Name: "ledger.invalid"},
		&adapterError{code: "ECONNREFUSED"},
		errors.New("dial tcp 127.0.0.1:8545: connection refused"),
	}
	for _, err := range cases {
		e := Classify(err)
		if e.Kind != KindConnectionFailed {
			t.Errorf("Classify(%v) kind = %s, want connection_failed", err, e.Kind)
		}
		if !e.Retryable {
			t.Errorf("connection_failed must be retryable")
		}
		if e.Severity != SeverityHigh {
			t.Errorf("connection_failed severity = %s, want high", e.Severity)
		}
	}
}

func TestClassify_Timeout(t *testing.T) {
	cases := []error{
		context.DeadlineExceeded,
		&adapterError{code: "ETIMEDOUT"},
		errors.New("i/o timeout"),
	}
	for _, err := range cases {
		e := Classify(err)
		if e.Kind != KindTimeout {
			t.Errorf("Classify(%v) kind = %s, want timeout", err, e.Kind)
		}
		if !e.Retryable || e.Severity != SeverityMedium {
			t.Errorf("timeout must be retryable, medium severity")
		}
	}
}

func TestClassify_Canceled(t *testing.T) {
	cases := []error{
		context.Canceled,
		fmt.Errorf("rpc call aborted: %w", context.Canceled),
	}
	for _, err := range cases {
		e := Classify(err)
		if e.Kind != KindCanceled {
			t.Errorf("Classify(%v) kind = %s, want canceled", err, e.Kind)
		}
		if e.Retryable {
			t.Errorf("canceled must not be retryable")
		}
		if e.Severity != SeverityLow {
			t.Errorf("canceled severity = %s, want low", e.Severity)
		}
	}
}

func TestClassify_HTTPStatus(t *testing.T) {
	e := Classify(&httpError{status: 503})
	if e.Kind != KindContractError || !e.Retryable || e.Severity != SeverityHigh {
		t.Fatalf("status 503: got %s retryable=%v severity=%s", e.Kind, e.Retryable, e.Severity)
	}

	e = Classify(&httpError{status: 422})
	if e.Kind != KindValidationError || e.Retryable || e.Severity != SeverityMedium {
		t.Fatalf("status 422: got %s retryable=%v severity=%s", e.Kind, e.Retryable, e.Severity)
	}
}

func TestClassify_MessageHeuristics(t *testing.T) {
	tests := []struct {
		msg       string
		kind      Kind
		retryable bool
	}{
		{"out of gas", KindInsufficientGas, true},
		{"wrong chain id configured", KindNetworkMismatch, false},
		{"execution revert", KindTransactionFailed, true},
		{"transaction underpriced", KindTransactionFailed, true},
		{"something inexplicable", KindInvalidResponse, true},
	}
	for _, tt := range tests {
		e := Classify(errors.New(tt.msg))
		if e.Kind != tt.kind {
			t.Errorf("Classify(%q) kind = %s, want %s", tt.msg, e.Kind, tt.kind)
		}
		if e.Retryable != tt.retryable {
			t.Errorf("Classify(%q) retryable = %v, want %v", tt.msg, e.Retryable, tt.retryable)
		}
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// Mentions gas, but carries a 4xx status: status check precedes heuristics.
	e := Classify(&httpError{status: 400})
	if e.Kind != KindValidationError {
		t.Fatalf("expected validation_error, got %s", e.Kind)
	}
}

func TestClassify_PassthroughAlreadyClassified(t *testing.T) {
	orig := New(KindNetworkMismatch, "wrong chain", false, SeverityHigh)
	if got := Classify(orig); got != orig {
		t.Fatal("already-classified errors must pass through unchanged")
	}

	// Also when wrapped.
	wrapped := fmt.Errorf("op failed: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Fatal("wrapped classified errors must unwrap to the original")
	}
}

func TestError_Is(t *testing.T) {
	e := Classify(context.DeadlineExceeded)
	if !errors.Is(e, New(KindTimeout, "", true, SeverityMedium)) {
		t.Fatal("errors.Is should match on kind")
	}
	if errors.Is(e, New(KindContractError, "", true, SeverityHigh)) {
		t.Fatal("errors.Is should not match a different kind")
	}
	// The original cause remains reachable.
	if !errors.Is(e, context.DeadlineExceeded) {
		t.Fatal("cause should unwrap")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConnectionFailed, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusServiceUnavailable},
		{KindCircuitOpen, http.StatusServiceUnavailable},
		{KindContractError, http.StatusBadGateway},
		{KindValidationError, http.StatusBadRequest},
		{KindInsufficientGas, http.StatusPaymentRequired},
		{KindNetworkMismatch, http.StatusConflict},
		{KindTransactionFailed, http.StatusUnprocessableEntity},
		{KindUnauthorized, http.StatusForbidden},
		{KindCanceled, 499},
	}
	for _, tt := range tests {
		e := New(tt.kind, "x", false, SeverityMedium)
		if got := HTTPStatus(e); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestCircuitOpen(t *testing.T) {
	e := CircuitOpen("30s")
	if e.Retryable {
		t.Fatal("circuit-open rejection must not be retryable")
	}
	if e.Details["retryAfter"] != "30s" {
		t.Fatalf("expected retryAfter hint, got %v", e.Details)
	}
}

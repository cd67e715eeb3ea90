// Package retry executes ledger operations with a per-attempt timeout,
// exponential backoff, and circuit breaker accounting. Every call to the
// external ledger service goes through an Executor.
package retry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/circuitbreaker"
)

var retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "visitra",
	Subsystem: "retry",
	Name:      "attempts_total",
	Help:      "Ledger call attempts by operation and outcome.",
}, []string{"operation", "outcome"})

func init() {
	prometheus.MustRegister(retryAttempts)
}

// Config tunes the executor.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is doubled on each retry: baseDelay * 2^attempt.
	BaseDelay time.Duration
	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Executor wraps ledger operations with the shared circuit breaker.
type Executor struct {
	breaker *circuitbreaker.Breaker
	cfg     Config
}

// NewExecutor creates an executor bound to the process-wide breaker.
func NewExecutor(breaker *circuitbreaker.Breaker, cfg Config) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Executor{breaker: breaker, cfg: cfg}
}

// Breaker exposes the underlying breaker for health reporting.
func (e *Executor) Breaker() *circuitbreaker.Breaker { return e.breaker }

// Do runs fn with retries. On each attempt the breaker is consulted first;
// an open circuit fails immediately without touching the network. Each
// attempt runs under the per-call timeout. Retryable failures back off
// baseDelay * 2^attempt before the next attempt; non-retryable failures
// and exhausted retries return the classified error. Cancellation of the
// parent context aborts without recording a breaker failure.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr *chainerr.Error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if !e.breaker.Allow() {
			retryAttempts.WithLabelValues(operation, "circuit_open").Inc()
			return chainerr.CircuitOpen(e.breaker.RetryAfter().Round(time.Second).String())
		}

		err := e.runOnce(ctx, fn)
		if err == nil {
			e.breaker.RecordSuccess()
			retryAttempts.WithLabelValues(operation, "success").Inc()
			return nil
		}

		// A failure caused by the caller abandoning the request says
		// nothing about ledger health; don't count it against the breaker.
		if ctx.Err() != nil {
			lastErr = chainerr.Classify(ctx.Err())
			retryAttempts.WithLabelValues(operation, string(lastErr.Kind)).Inc()
			return lastErr
		}

		e.breaker.RecordFailure()
		lastErr = chainerr.Classify(err)
		retryAttempts.WithLabelValues(operation, string(lastErr.Kind)).Inc()

		if !lastErr.Retryable || attempt == e.cfg.MaxRetries {
			return lastErr
		}

		// Exponential backoff: baseDelay * 2^attempt.
		delay := e.cfg.BaseDelay << uint(attempt)
		select {
		case <-ctx.Done():
			return chainerr.Classify(ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

// runOnce executes fn under the call timeout. fn runs in its own goroutine
// so a call that ignores its context cannot hold up the attempt; a late
// result is discarded.
func (e *Executor) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	}
}

// DoValue runs a result-producing operation through the executor.
func DoValue[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

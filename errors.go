// FILE: errors.go
// Package main – Error kinds used across the tick pipeline.
//
// Every failure that crosses a component boundary carries one of four kinds:
//   • errDataInsufficient  – empty/short candle series, non-positive ATR;
//                            the tick aborts, next tick retries naturally.
//   • errTransientExchange – network/5xx/429 style failures from the venue;
//                            only this kind is retried by the order executor.
//   • errConfiguration     – venue rejected a setup request (leverage, margin
//                            mode, unknown symbol); warned, never retried.
//   • (unknown)            – anything unwrapped; the scheduler logs and moves on.
//
// Kinds are sentinels joined into the chain with %w so callers classify with
// errors.Is and still see the underlying cause.
package main

import (
	"errors"
	"fmt"
)

var (
	errDataInsufficient  = errors.New("data insufficient")
	errTransientExchange = errors.New("transient exchange failure")
	errConfiguration     = errors.New("configuration rejected")
)

// dataErr marks err (or a fresh message) as a data-insufficiency failure.
func dataErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errDataInsufficient}, args...)...)
}

// transientErr wraps a venue failure so the executor knows it may retry.
func transientErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errTransientExchange, op, err)
}

// configErr wraps a venue setup rejection.
func configErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errConfiguration, op, err)
}

// errKind names the taxonomy bucket of err for log lines and metrics labels.
func errKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errDataInsufficient):
		return "data_insufficient"
	case errors.Is(err, errTransientExchange):
		return "transient_exchange"
	case errors.Is(err, errConfiguration):
		return "configuration"
	default:
		return "unknown"
	}
}

// retryable reports whether the executor should re-attempt after err. Only
// transient venue failures retry; configuration rejections, data problems
// and unclassified errors fail the submission immediately.
func retryable(err error) bool {
	return errors.Is(err, errTransientExchange)
}

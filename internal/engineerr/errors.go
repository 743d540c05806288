// Package engineerr implements the engine's error taxonomy: a single
// EngineError type, satisfying error and Unwrap, that carries one
// Kind per error category, plus a Classify helper used by both error
// reporting and RetryPolicy categorization.
package engineerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the engine's taxonomic error category. It is not a Go error
// type by itself; each Kind has a concrete constructor below.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindApprovalDenied    Kind = "approval_denied"
	KindCircuitOpen       Kind = "circuit_open"
	KindRetriableProvider Kind = "retriable_provider_error"
	KindNonRetriable      Kind = "non_retriable_provider_error"
	KindToolExecution     Kind = "tool_execution_error"
	KindSnapshot          Kind = "snapshot_error"
	KindIterationLimit    Kind = "iteration_limit_reached"
	KindContextOverflow   Kind = "context_overflow"
	KindCancelled         Kind = "cancelled"
	KindConcurrentTurn    Kind = "concurrent_turn_rejected"
)

// EngineError is the one error type behind every Kind, so callers
// can switch on Kind without a chain of type assertions.
type EngineError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *EngineError) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: msg, Cause: cause}
}

// ValidationError reports bad tool params or arguments.
func ValidationError(msg string) error { return newErr(KindValidation, msg, nil) }

// ApprovalDeniedError reports a policy refusal of a tool call.
func ApprovalDeniedError(reason string) error {
	return newErr(KindApprovalDenied, reason, nil)
}

// CircuitOpenError reports that the circuit breaker is blocking this tool.
func CircuitOpenError(toolName string) error {
	return newErr(KindCircuitOpen, "circuit_open: "+toolName, nil)
}

// RetriableProviderError reports a rate limit, network, or overload
// failure from the model or a tool provider.
func RetriableProviderError(cause error) error {
	return newErr(KindRetriableProvider, "", cause)
}

// NonRetriableProviderError reports an auth, permission, or
// invalid-input failure that must not be retried.
func NonRetriableProviderError(cause error) error {
	return newErr(KindNonRetriable, "", cause)
}

// ToolExecutionError reports a tool's own internal failure. It is
// never fatal to the loop.
func ToolExecutionError(toolName string, cause error) error {
	return newErr(KindToolExecution, "tool "+toolName+" failed", cause)
}

// SnapshotError reports that a pre/post snapshot hook failed. It is
// logged but never fatal to the tool call.
func SnapshotError(msg string, cause error) error {
	return newErr(KindSnapshot, msg, cause)
}

// IterationLimitError reports that the agentic loop exceeded its bound.
func IterationLimitError(limit int) error {
	return newErr(KindIterationLimit, fmt.Sprintf("reached iteration limit of %d", limit), nil)
}

// ContextOverflowError reports a prompt too large even after a
// handoff attempt.
func ContextOverflowError(msg string) error { return newErr(KindContextOverflow, msg, nil) }

// CancelledError reports that the operation was cancelled externally.
func CancelledError(cause error) error { return newErr(KindCancelled, "", cause) }

// ConcurrentTurnError reports that a second processInput was attempted
// on a session still processing one.
func ConcurrentTurnError(sessionID string) error {
	return newErr(KindConcurrentTurn, "turn already in progress for session "+sessionID, nil)
}

// As extracts an *EngineError and its Kind from an error chain.
func As(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) an EngineError of the given Kind.
func Is(err error, kind Kind) bool {
	ee, ok := As(err)
	return ok && ee.Kind == kind
}

// RetryCategory is the classification RetryPolicy uses, distinct from
// Kind because "unknown" is a valid retry category but not a
// taxonomic error Kind.
type RetryCategory string

const (
	CategoryRateLimit     RetryCategory = "rate_limit"
	CategoryOverload      RetryCategory = "overload"
	CategoryNetwork       RetryCategory = "network"
	CategoryNonRetriable  RetryCategory = "non_retriable"
	CategoryUnknown       RetryCategory = "unknown"
)

// rateLimitHints, overloadHints, networkHints, and nonRetriableHints
// are checked in this exact order.
var (
	rateLimitHints    = []string{"rate limit", "rate_limit", "429", "too many requests"}
	overloadHints     = []string{"overload", "overloaded", "503", "capacity"}
	networkHints      = []string{"network", "timeout", "timed out", "connection reset", "connection refused", "dns", "unreachable"}
	nonRetriableHints = []string{"authentication", "unauthorized", "permission", "forbidden", "invalid input", "invalid_input", "401", "403"}
)

// Classify categorizes an error by substring match on its message,
// case-insensitive, checked in a fixed priority order.
func Classify(err error) RetryCategory {
	if err == nil {
		return CategoryUnknown
	}
	if Is(err, KindCircuitOpen) {
		// Circuit-open is handled by its own code path and is never
		// retriable regardless of category.
		return CategoryNonRetriable
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, rateLimitHints) {
		return CategoryRateLimit
	}
	if containsAny(msg, overloadHints) {
		return CategoryOverload
	}
	if containsAny(msg, networkHints) {
		return CategoryNetwork
	}
	if containsAny(msg, nonRetriableHints) {
		return CategoryNonRetriable
	}
	return CategoryUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTenantInactive     = errors.New("tenant inactive")
	ErrSecretNotFound     = errors.New("secret not found")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrBudgetExceeded     = errors.New("budget exceeded")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

// ErrorClass is the gateway's failure taxonomy for provider attempts.
// Every class except ClassInvalidRequest is fallback-eligible.
type ErrorClass string

const (
	ClassAuth           ErrorClass = "auth"
	ClassRateLimited    ErrorClass = "rate_limited"
	ClassModelNotFound  ErrorClass = "model_not_found"
	ClassTimeout        ErrorClass = "timeout"
	ClassTransport      ErrorClass = "transport"
	ClassInvalidRequest ErrorClass = "invalid_request"
)

// ProviderError is a classified failure from one provider attempt.
type ProviderError struct {
	Provider string
	Model    string
	Class    ErrorClass
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Provider, e.Model, e.Class, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Provider, e.Model, e.Class)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// FallbackEligible reports whether a failure of this class should advance the
// fallback chain. A malformed request fails the same way everywhere.
func (e *ProviderError) FallbackEligible() bool {
	return e.Class != ClassInvalidRequest
}

// Classify extracts the error class from err, or ClassTransport when err is
// not a ProviderError.
func Classify(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransport
}

// ExhaustedError reports that the primary and every fallback candidate failed.
// It keeps the per-attempt classifications for the caller.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", a.Provider, a.Model, a.ErrorClass))
	}
	return "all providers exhausted: " + strings.Join(parts, "; ")
}

// BudgetExceededError carries the usage percentage for the caller's error
// response. It unwraps to ErrBudgetExceeded.
type BudgetExceededError struct {
	TenantID   string
	Percentage float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for tenant %s (%.1f%% used)", e.TenantID, e.Percentage)
}

func (e *BudgetExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

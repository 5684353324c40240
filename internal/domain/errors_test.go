package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestFallbackEligible(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ClassAuth, true},
		{ClassRateLimited, true},
		{ClassModelNotFound, true},
		{ClassTimeout, true},
		{ClassTransport, true},
		{ClassInvalidRequest, false},
	}

	for _, tt := range tests {
		e := &ProviderError{Class: tt.class}
		if got := e.FallbackEligible(); got != tt.want {
			t.Errorf("FallbackEligible(%s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	pe := &ProviderError{Provider: "openai", Class: ClassRateLimited}
	if got := Classify(pe); got != ClassRateLimited {
		t.Errorf("Classify(ProviderError) = %q, want rate_limited", got)
	}

	wrapped := errors.Join(errors.New("dial failed"), pe)
	if got := Classify(wrapped); got != ClassRateLimited {
		t.Errorf("Classify(wrapped) = %q, want rate_limited", got)
	}

	if got := Classify(errors.New("plain")); got != ClassTransport {
		t.Errorf("Classify(plain) = %q, want transport", got)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	e := &ProviderError{Provider: "groq", Model: "llama-3.1-8b-instant", Class: ClassTransport, Err: inner}

	if !errors.Is(e, inner) {
		t.Error("ProviderError does not unwrap to its cause")
	}
	if !strings.Contains(e.Error(), "groq/llama-3.1-8b-instant") {
		t.Errorf("Error() = %q, missing provider/model", e.Error())
	}
}

func TestBudgetExceededErrorUnwrap(t *testing.T) {
	var err error = &BudgetExceededError{TenantID: "t1", Percentage: 104.5}

	if !errors.Is(err, ErrBudgetExceeded) {
		t.Error("BudgetExceededError does not unwrap to ErrBudgetExceeded")
	}
	if !strings.Contains(err.Error(), "t1") {
		t.Errorf("Error() = %q, missing tenant id", err.Error())
	}
}

func TestExhaustedErrorMessage(t *testing.T) {
	e := &ExhaustedError{Attempts: []Attempt{
		{Provider: "openai", Model: "gpt-4o", ErrorClass: ClassRateLimited},
		{Provider: "groq", Model: "llama-3.1-70b-versatile", ErrorClass: ClassTimeout},
	}}

	msg := e.Error()
	if !strings.HasPrefix(msg, "all providers exhausted: ") {
		t.Errorf("Error() = %q", msg)
	}
	if !strings.Contains(msg, "openai/gpt-4o: rate_limited") {
		t.Errorf("Error() = %q, missing first attempt", msg)
	}
	if !strings.Contains(msg, "groq/llama-3.1-70b-versatile: timeout") {
		t.Errorf("Error() = %q, missing second attempt", msg)
	}
}

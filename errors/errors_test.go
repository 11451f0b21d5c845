package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"not connected", ErrNotConnected, true},
		{"subscribe failed", ErrSubscribeFailed, true},
		{"stream error", ErrStreamError, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"unknown path", ErrUnknownPath, false},
		{"timeout in message", fmt.Errorf("request timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("timeout")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid scope", ErrInvalidScope, true},
		{"unsupported namespace", ErrUnsupportedNamespace, true},
		{"unknown path", ErrUnknownPath, true},
		{"capability unsupported", ErrCapabilityUnsupported, true},
		{"no schema", ErrNoSchema, true},
		{"subscribe failed", ErrSubscribeFailed, false},
		{"wrapped invalid", WrapInvalid(ErrUnknownPath, "Registry", "initialize", "resolve"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsInvalid(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrInvalidConfig) {
		t.Error("expected invalid config to be fatal")
	}
	if !IsFatal(WrapFatal(errors.New("boom"), "Supervisor", "Start", "connect")) {
		t.Error("expected wrapped fatal error to be fatal")
	}
	if IsFatal(ErrStreamError) {
		t.Error("stream error must not be fatal")
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	err := WrapTransient(ErrSubscribeFailed, "Supervisor", "Subscribe", "transport subscribe")

	expected := "Supervisor.Subscribe: transport subscribe failed: transport subscribe failed"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Error("expected errors.Is to find ErrSubscribeFailed")
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError in chain")
	}
	if ce.Component != "Supervisor" || ce.Operation != "Subscribe" {
		t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
	}

	if Wrap(nil, "a", "b", "c") != nil || WrapInvalid(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "none"},
		{ErrInvalidScope, "invalid_scope"},
		{WrapInvalid(ErrUnsupportedNamespace, "Registry", "initialize", "resolve"), "unsupported_namespace"},
		{fmt.Errorf("outer: %w", ErrUnknownPath), "unknown_path"},
		{WrapTransient(ErrSubscribeFailed, "Supervisor", "Subscribe", "x"), "subscribe_failed"},
		{ErrCapabilityUnsupported, "capability_unsupported"},
		{ErrStreamError, "stream_error"},
		{ErrInvalidConfig, "fatal"},
		{errors.New("something odd"), "transient"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := Kind(test.err); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

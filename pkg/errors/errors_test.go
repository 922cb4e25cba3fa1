package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidConfig, "missing env var %s", "PAT")

	if err.Code != ErrCodeInvalidConfig {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
	}

	if err.Message != "missing env var PAT" {
		t.Errorf("Message = %v, want %v", err.Message, "missing env var PAT")
	}

	expected := "INVALID_CONFIG: missing env var PAT"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeStoreUnavailable, cause, "ping store")

	if err.Code != ErrCodeStoreUnavailable {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeStoreUnavailable)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeNotFound, "no such package"),
			code:     ErrCodeNotFound,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeNotFound, "no such package"),
			code:     ErrCodeStoreUnavailable,
			expected: false,
		},
		{
			name:     "wrapped error reports outer code",
			err:      Wrap(ErrCodeUpstreamUnavailable, New(ErrCodeUnauthorized, "inner"), "outer"),
			code:     ErrCodeUpstreamUnavailable,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeNotFound,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeNotFound,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if code := GetCode(New(ErrCodePackageSyncFailed, "fetch failed")); code != ErrCodePackageSyncFailed {
		t.Errorf("GetCode() = %v, want %v", code, ErrCodePackageSyncFailed)
	}
	if code := GetCode(errors.New("plain")); code != "" {
		t.Errorf("GetCode() = %v, want empty", code)
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(New(ErrCodeNotFound, "package foo not found")); msg != "package foo not found" {
		t.Errorf("UserMessage() = %v", msg)
	}
	if msg := UserMessage(errors.New("plain error")); msg != "plain error" {
		t.Errorf("UserMessage() = %v", msg)
	}
}

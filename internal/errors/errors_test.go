package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestNewAppError(t *testing.T) {
	err := New(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		code           ErrorCode
		expectedStatus int
	}{
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeNoRouteAvailable, http.StatusUnprocessableEntity},
		{ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable},
		{ErrCodeImplausibleValue, http.StatusServiceUnavailable},
		{ErrCodeDBConnection, http.StatusServiceUnavailable},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, test := range tests {
		err := New(test.code, "Test", nil)
		status := err.HTTPStatus()

		if status != test.expectedStatus {
			t.Errorf("Code %s: expected status %d, got %d", test.code, test.expectedStatus, status)
		}
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	if !New(ErrCodeUpstreamUnavailable, "down", nil).IsRetryable() {
		t.Error("upstream unavailable should be retryable")
	}
	if !New(ErrCodeImplausibleValue, "bad fx", nil).IsRetryable() {
		t.Error("implausible value should fall through like an upstream failure")
	}
	if New(ErrCodeInvalidInput, "bad amount", nil).IsRetryable() {
		t.Error("invalid input should not be retryable")
	}
}

func TestWrapKeepsExistingAppError(t *testing.T) {
	inner := New(ErrCodeImplausibleValue, "rate out of range", nil)
	wrapped := fmt.Errorf("provider yahoo: %w", inner)

	got := Wrap(wrapped, ErrCodeInternal, "ignored")
	if got != inner {
		t.Fatalf("expected the inner AppError to be returned, got %v", got)
	}
	if !Is(wrapped, ErrCodeImplausibleValue) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if CodeOf(fmt.Errorf("plain")) != ErrCodeInternal {
		t.Error("plain errors map to INTERNAL_ERROR")
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestResult(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() {
		t.Fatal("Ok result should be ok")
	}
	v, err := ok.Unwrap()
	if err != nil || v != 42 {
		t.Fatalf("Unwrap() = %v, %v", v, err)
	}

	failed := Err[int](New(ErrCodeUpstreamUnavailable, "all providers failed", nil))
	if failed.IsOk() {
		t.Fatal("Err result should not be ok")
	}
	if failed.Code() != ErrCodeUpstreamUnavailable {
		t.Errorf("Code() = %s", failed.Code())
	}
	if _, err := failed.Unwrap(); err == nil {
		t.Error("Unwrap on Err must return an error")
	}
	if Err[int](fmt.Errorf("boom")).Code() != ErrCodeInternal {
		t.Error("plain error should be wrapped as INTERNAL_ERROR")
	}
}

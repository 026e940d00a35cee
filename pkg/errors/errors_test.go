package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("surface"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("no"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewTimeoutError("slow"), ErrCodeTimeout, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code || tc.err.HTTPStatus != tc.status {
			t.Errorf("got %s/%d, want %s/%d", tc.err.Code, tc.err.HTTPStatus, tc.code, tc.status)
		}
	}
	if msg := NewNotFoundError("surface").Message; msg != "surface not found" {
		t.Errorf("Message = %q", msg)
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}
	if result := GetAppError(fmt.Errorf("handler: %w", appErr)); result != appErr {
		t.Error("GetAppError() should extract AppError from a wrapped chain")
	}
	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
	if IsAppError(errors.New("regular error")) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestTranslate(t *testing.T) {
	errDenied := errors.New("permission denied")
	errMissing := errors.New("missing")
	rules := []Rule{
		{Target: errDenied, Code: ErrCodePermissionDenied, HTTPStatus: http.StatusForbidden},
		{Target: errMissing, Code: ErrCodeSurfaceNotFound, HTTPStatus: http.StatusNotFound},
	}

	got := Translate(fmt.Errorf("capture: %w", errDenied), rules...)
	if got.Code != ErrCodePermissionDenied || got.HTTPStatus != http.StatusForbidden {
		t.Errorf("Translate() = %s/%d", got.Code, got.HTTPStatus)
	}
	if got.Message != "permission denied" {
		t.Errorf("Message = %q", got.Message)
	}

	got = Translate(errors.New("boom"), rules...)
	if got.Code != ErrCodeInternal {
		t.Errorf("unmatched error should be internal, got %s", got.Code)
	}

	existing := NewConflictError("busy")
	if Translate(existing, rules...) != existing {
		t.Error("AppError should pass through unchanged")
	}
	if Translate(nil, rules...) != nil {
		t.Error("nil should translate to nil")
	}
}

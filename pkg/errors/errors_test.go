package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details/Context maps not initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeThrottled, "slow down").Retryable {
			t.Error("Throttled should be retryable by default")
		}
		if NewError(ErrCodeCacheNotFound, "missing").Retryable {
			t.Error("CacheNotFound should not be retryable by default")
		}
	})

	t.Run("sets HTTP status defaults", func(t *testing.T) {
		tests := []struct {
			code       ErrorCode
			wantStatus int
		}{
			{ErrCodeInvalidConfig, 400},
			{ErrCodeCredentialsMissing, 401},
			{ErrCodeAccessDenied, 403},
			{ErrCodeCacheNotFound, 404},
			{ErrCodeCacheTypeMismatch, 409},
			{ErrCodeThrottled, 429},
			{ErrCodeInternalError, 500},
			{ErrCodeOperationTimeout, 504},
		}

		for _, tt := range tests {
			if got := NewError(tt.code, "test").HTTPStatus; got != tt.wantStatus {
				t.Errorf("%v: HTTPStatus = %d, want %d", tt.code, got, tt.wantStatus)
			}
		}
	})
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeNetworkError, CategoryConnection},
		{ErrCodeCacheLoad, CategoryCache},
		{ErrCodeNamespaceLookup, CategoryNaming},
		{ErrCodeNotConnected, CategoryState},
		{ErrCodeShutdownInProgress, CategoryState},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeCredentialsWiped, CategoryAuth},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestCloudError_Error(t *testing.T) {
	err := NewError(ErrCodeCacheNotFound, "no such cache").
		WithComponent("cache").
		WithOperation("Clear")

	if got := err.Error(); got != "[cache:Clear] CACHE_NOT_FOUND: no such cache" {
		t.Errorf("Error() = %q", got)
	}

	bare := NewError(ErrCodeInternalError, "boom")
	if got := bare.Error(); got != "INTERNAL_ERROR: boom" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := NewError(ErrCodeNamespaceLookup, "lookup failed").WithCause(fmt.Errorf("dial tcp: refused"))
	if !strings.Contains(wrapped.Error(), "dial tcp: refused") {
		t.Errorf("Error() should include the cause, got %q", wrapped.Error())
	}
}

func TestCloudError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrCodeNotConnected, "provider closed").WithCause(cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if !errors.Is(wrapped, &CloudError{Code: ErrCodeNotConnected}) {
		t.Error("errors.Is should match by code through wrapping")
	}
	if errors.Is(wrapped, &CloudError{Code: ErrCodeInvalidState}) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if CodeOf(wrapped) != ErrCodeNotConnected {
		t.Errorf("CodeOf = %s", CodeOf(wrapped))
	}
	if CodeOf(cause) != ErrCodeUnknownError {
		t.Errorf("CodeOf(plain) = %s", CodeOf(cause))
	}
	if !HasCode(wrapped, ErrCodeNotConnected) {
		t.Error("HasCode should find the code")
	}
}

func TestCloudError_JSONAndString(t *testing.T) {
	err := NewError(ErrCodeNameInvalid, "bad name").
		WithDetail("name", "--").
		WithContext("constraints", "strict")

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != string(ErrCodeNameInvalid) {
		t.Errorf("code = %v", decoded["code"])
	}

	s := err.String()
	for _, want := range []string{"Code=NAME_INVALID", "Category=naming", `Details={"name":"--"}`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q: %s", want, s)
		}
	}
}

func TestCloudError_UserFacingMessage(t *testing.T) {
	if got := NewError(ErrCodeCacheNotFound, "cache x not found").UserFacingMessage(); got != "cache x not found" {
		t.Errorf("UserFacingMessage = %q", got)
	}
	if got := NewError(ErrCodeInternalError, "nil map").UserFacingMessage(); strings.Contains(got, "nil map") {
		t.Errorf("internal details leaked: %q", got)
	}
}

func TestCloudError_WithStack(t *testing.T) {
	err := NewError(ErrCodeInternalError, "boom").WithStack()
	if err.Stack == "" {
		t.Error("WithStack should capture frames")
	}
}

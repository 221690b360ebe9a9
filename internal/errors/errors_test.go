// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorCodeValues verifies sync error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"database", ErrDatabase},
		{"queue not durable", ErrQueueNotDurable},
		{"sync not configured", ErrSyncNotConfigured},
		{"sync auth failed", ErrSyncAuthFailed},
		{"sync quota exceeded", ErrSyncQuotaExceeded},
		{"sync in progress", ErrSyncInProgress},
		{"sync paused", ErrSyncPaused},
		{"sync offline", ErrSyncOffline},
		{"nothing assembled", ErrSyncNothingAssembled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: New(ErrSyncPaused, "sync is paused"),
			want:     "[SYNC_PAUSED] sync is paused",
		},
		{
			name:     "error with underlying error",
			appError: Wrap(ErrDatabase, "put failed", errors.New("disk full")),
			want:     "[DATABASE_ERROR] put failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestIs_walksChain verifies Is finds codes nested under other AppErrors and fmt wrapping.
func TestIs_walksChain(t *testing.T) {
	root := errors.New("HTTP 429")
	quota := Wrap(ErrSyncQuotaExceeded, "throttled", root)
	outer := Wrap(ErrSyncFailed, "deliver batch", fmt.Errorf("sales: %w", quota))

	if !Is(outer, ErrSyncFailed) {
		t.Error("Is(outer, ErrSyncFailed) = false, want true")
	}
	if !Is(outer, ErrSyncQuotaExceeded) {
		t.Error("Is(outer, ErrSyncQuotaExceeded) = false, want true")
	}
	if Is(outer, ErrSyncAuthFailed) {
		t.Error("Is(outer, ErrSyncAuthFailed) = true, want false")
	}
	if !errors.Is(outer, root) {
		t.Error("errors.Is should reach the root cause")
	}
}

// TestIs_plainError verifies non-AppErrors never match.
func TestIs_plainError(t *testing.T) {
	if Is(errors.New("boom"), ErrInternal) {
		t.Error("plain error should not match any code")
	}
	if Is(nil, ErrInternal) {
		t.Error("nil should not match any code")
	}
}

// TestCode verifies the outermost code is reported.
func TestCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(ErrSyncOffline, "offline"))
	if got := Code(err); got != ErrSyncOffline {
		t.Errorf("Code() = %s, want %s", got, ErrSyncOffline)
	}
	if got := Code(errors.New("x")); got != ErrInternal {
		t.Errorf("Code(plain) = %s, want %s", got, ErrInternal)
	}
}

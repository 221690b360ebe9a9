package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/kimhsiao/possync/internal/clock"
	apperrors "github.com/kimhsiao/possync/internal/errors"
)

var throttle = &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Quota exceeded"}

func newLimiter() (*Limiter, *clock.Manual) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(DefaultConfig(), clk), clk
}

func TestWait_MinimumSpacing(t *testing.T) {
	l, clk := newLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() failed: %v", err)
		}
	}

	// First call is immediate, later calls wait out the interval.
	got := clk.Sleeps()
	want := []time.Duration{0, 500 * time.Millisecond, 500 * time.Millisecond}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestWait_ElapsedTimeCounts(t *testing.T) {
	l, clk := newLimiter()
	ctx := context.Background()

	l.Wait(ctx)
	clk.Advance(200 * time.Millisecond)
	l.Wait(ctx)

	got := clk.Sleeps()
	if d := got[len(got)-1]; d < 299*time.Millisecond || d > 300*time.Millisecond {
		t.Errorf("second wait = %v, want 300ms", d)
	}
}

func TestDo_RetriesThrottleWithBackoff(t *testing.T) {
	l, clk := newLimiter()
	invalidated := 0
	l.OnThrottle(func() { invalidated++ })

	calls := 0
	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return throttle
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if invalidated != 2 {
		t.Errorf("throttle hooks = %d, want 2", invalidated)
	}

	var backoffs []time.Duration
	for _, d := range clk.Sleeps() {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	if !reflect.DeepEqual(backoffs, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("backoffs = %v, want [1s 2s]", backoffs)
	}
}

func TestDo_ExhaustedReturnsOriginal(t *testing.T) {
	l, _ := newLimiter()

	calls := 0
	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return throttle
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !apperrors.Is(err, apperrors.ErrSyncQuotaExceeded) {
		t.Errorf("error = %v, want %s", err, apperrors.ErrSyncQuotaExceeded)
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr != throttle {
		t.Error("exhausted error must wrap the original throttle error")
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited() = false for exhausted call")
	}
}

func TestDo_OtherErrorsNotRetried(t *testing.T) {
	l, _ := newLimiter()
	boom := errors.New("permission denied")

	calls := 0
	err := l.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if err != boom {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if IsRateLimited(err) {
		t.Error("IsRateLimited() = true for a plain error")
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	l := New(DefaultConfig(), clock.Real{})
	ctx, cancel := context.WithCancel(context.Background())

	l.Wait(ctx)
	cancel()
	err := l.Do(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsThrottle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", throttle, true},
		{"403 rate", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{"403 quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, true},
		{"403 forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}, false},
		{"500", &googleapi.Error{Code: 500}, false},
		{"wrapped", apperrors.Wrap(apperrors.ErrSyncFailed, "write", throttle), true},
		{"plain", errors.New("x"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsThrottle(tt.err); got != tt.want {
			t.Errorf("IsThrottle(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

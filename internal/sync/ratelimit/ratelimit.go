// Package ratelimit paces outbound spreadsheet calls and retries calls the
// provider rejected for quota reasons.
package ratelimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/kimhsiao/possync/internal/clock"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
)

// Config controls pacing and throttle retries.
type Config struct {
	// MinInterval is the minimum spacing between the starts of two calls.
	MinInterval time.Duration
	// MaxAttempts is the number of tries for a throttled call.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the default pacing: 500ms spacing, 3 attempts,
// backoff from 1s doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MinInterval: 500 * time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

// Limiter is shared by every remote call of the process, so all calls are
// serialized behind one watermark.
type Limiter struct {
	cfg     Config
	clock   clock.Clock
	limiter *rate.Limiter

	mu         sync.Mutex
	onThrottle []func()
}

// New creates a Limiter.
func New(cfg Config, clk clock.Clock) *Limiter {
	cfg = cfg.normalize()
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Limiter{
		cfg:     cfg,
		clock:   clk,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// OnThrottle registers fn to run whenever a call is throttled.
func (l *Limiter) OnThrottle(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onThrottle = append(l.onThrottle, fn)
}

// Wait blocks until the next call may start.
func (l *Limiter) Wait(ctx context.Context) error {
	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot grant a call")
	}
	if err := l.clock.Sleep(ctx, r.DelayFrom(now)); err != nil {
		r.CancelAt(l.clock.Now())
		return err
	}
	return nil
}

// Do runs fn after pacing. Throttled calls are retried with exponential
// backoff; once attempts are exhausted the last error is returned wrapped
// as SYNC_QUOTA_EXCEEDED. Other errors are returned as is.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if werr := l.Wait(ctx); werr != nil {
			return werr
		}

		err = fn(ctx)
		if err == nil || !IsThrottle(err) {
			return err
		}

		l.throttled()
		if attempt == l.cfg.MaxAttempts {
			break
		}

		delay := Backoff(attempt, l.cfg.BaseDelay, l.cfg.MaxDelay)
		logging.Warn("Remote call throttled, backing off", map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		})
		if serr := l.clock.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	return apperrors.Wrap(apperrors.ErrSyncQuotaExceeded,
		fmt.Sprintf("remote quota exceeded after %d attempts", l.cfg.MaxAttempts), err)
}

func (l *Limiter) throttled() {
	l.mu.Lock()
	hooks := append([]func(){}, l.onThrottle...)
	l.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Backoff returns the delay after the given 1-based attempt: base doubled
// per attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

var throttleReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// IsThrottle reports whether err is a provider quota rejection.
func IsThrottle(err error) bool {
	var gerr *googleapi.Error
	if !stderrors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if throttleReasons[item.Reason] {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err should be treated as a rate-limit
// failure: a throttle error or an exhausted Do.
func IsRateLimited(err error) bool {
	return apperrors.Is(err, apperrors.ErrSyncQuotaExceeded) || IsThrottle(err)
}

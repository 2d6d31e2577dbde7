// Package ratelimit implements the three C2 limiter variants behind a common
// acquire() contract: token-window, backoff, and adaptive. The engine composes one
// TokenWindow per source (via FromParams); Backoff and Adaptive satisfy the same
// contract but are not wired into the engine.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// TokenWindow is the classical fixed-interval limiter, a thin wrapper over
// golang.org/x/time/rate, used to gate outbound HTTP calls per source.
type TokenWindow struct {
	limiter *rate.Limiter
}

// NewTokenWindow builds a limiter granting `permits` operations per `window`.
func NewTokenWindow(permits int, window time.Duration) *TokenWindow {
	if permits <= 0 {
		permits = 1
	}
	interval := window / time.Duration(permits)
	return &TokenWindow{limiter: rate.NewLimiter(rate.Every(interval), permits)}
}

func (t *TokenWindow) Acquire(ctx context.Context) (interfaces.LimitGrant, error) {
	r := t.limiter.Reserve()
	if !r.OK() {
		return interfaces.LimitGrant{Granted: false}, nil
	}
	delay := r.Delay()
	if delay <= 0 {
		return interfaces.LimitGrant{Granted: true}, nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return interfaces.LimitGrant{Granted: true}, nil
	case <-ctx.Done():
		r.Cancel()
		return interfaces.LimitGrant{Granted: false}, ctx.Err()
	}
}

func (t *TokenWindow) NotifyResult(bool) {}

// BackoffKind selects the schedule shape used by Backoff.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFibonacci   BackoffKind = "fibonacci"
)

// Backoff grows its wait interval on repeated denials and resets after a
// sustained success streak.
type Backoff struct {
	mu           sync.Mutex
	kind         BackoffKind
	base         float64
	interval     time.Duration
	minInterval  time.Duration
	maxInterval  time.Duration
	denialStreak int
	successStreak int
	resetAfter   int // consecutive successes required to reset to minInterval
	fibA, fibB   int
}

// NewBackoff builds a Backoff limiter with the given schedule.
func NewBackoff(kind BackoffKind, base float64, minInterval, maxInterval time.Duration, resetAfter int) *Backoff {
	if resetAfter <= 0 {
		resetAfter = 5
	}
	return &Backoff{
		kind:        kind,
		base:        base,
		interval:    minInterval,
		minInterval: minInterval,
		maxInterval: maxInterval,
		resetAfter:  resetAfter,
		fibA:        1,
		fibB:        1,
	}
}

func (b *Backoff) Acquire(ctx context.Context) (interfaces.LimitGrant, error) {
	b.mu.Lock()
	wait := b.interval
	b.mu.Unlock()

	if wait <= 0 {
		return interfaces.LimitGrant{Granted: true}, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return interfaces.LimitGrant{Granted: true}, nil
	case <-ctx.Done():
		return interfaces.LimitGrant{Granted: false, WaitHint: wait}, ctx.Err()
	}
}

func (b *Backoff) NotifyResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.denialStreak = 0
		b.successStreak++
		if b.successStreak >= b.resetAfter {
			b.interval = b.minInterval
			b.fibA, b.fibB = 1, 1
			b.successStreak = 0
		}
		return
	}

	b.successStreak = 0
	b.denialStreak++
	var next time.Duration
	switch b.kind {
	case BackoffLinear:
		next = b.minInterval * time.Duration(b.denialStreak)
	case BackoffFibonacci:
		b.fibA, b.fibB = b.fibB, b.fibA+b.fibB
		next = b.minInterval * time.Duration(b.fibA)
	default: // exponential
		factor := math.Pow(b.base, float64(b.denialStreak))
		next = time.Duration(float64(b.minInterval) * factor)
	}
	if next > b.maxInterval {
		next = b.maxInterval
	}
	b.interval = next
}

// Adaptive adjusts its effective interval up when recent error-rate or detection
// risk is high, and down after K consecutive low-error windows.
type Adaptive struct {
	mu              sync.Mutex
	interval        time.Duration
	minInterval     time.Duration
	maxInterval     time.Duration
	errorRateTarget float64
	goodWindows     int
	windowsToRelax  int
	successes       int
	failures        int
	riskFn          func() float64
}

// NewAdaptive builds an Adaptive limiter. riskFn, if non-nil, is consulted for the
// source's current anti-detection risk score on each acquire.
func NewAdaptive(minInterval, maxInterval time.Duration, errorRateTarget float64, windowsToRelax int, riskFn func() float64) *Adaptive {
	if windowsToRelax <= 0 {
		windowsToRelax = 3
	}
	return &Adaptive{
		interval:        minInterval,
		minInterval:     minInterval,
		maxInterval:     maxInterval,
		errorRateTarget: errorRateTarget,
		windowsToRelax:  windowsToRelax,
		riskFn:          riskFn,
	}
}

func (a *Adaptive) Acquire(ctx context.Context) (interfaces.LimitGrant, error) {
	a.mu.Lock()
	wait := a.interval
	a.mu.Unlock()

	if wait <= 0 {
		return interfaces.LimitGrant{Granted: true}, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return interfaces.LimitGrant{Granted: true}, nil
	case <-ctx.Done():
		return interfaces.LimitGrant{Granted: false, WaitHint: wait}, ctx.Err()
	}
}

func (a *Adaptive) NotifyResult(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if success {
		a.successes++
	} else {
		a.failures++
	}
	total := a.successes + a.failures
	if total < 5 {
		return
	}

	errorRate := float64(a.failures) / float64(total)
	risk := 0.0
	if a.riskFn != nil {
		risk = a.riskFn()
	}

	if errorRate > a.errorRateTarget || risk > 0.5 {
		a.goodWindows = 0
		next := a.interval * 2
		if next > a.maxInterval {
			next = a.maxInterval
		}
		a.interval = next
		a.successes, a.failures = 0, 0
		return
	}

	a.goodWindows++
	a.successes, a.failures = 0, 0
	if a.goodWindows >= a.windowsToRelax {
		a.goodWindows = 0
		next := a.interval / 2
		if next < a.minInterval {
			next = a.minInterval
		}
		a.interval = next
	}
}

// FromParams builds a TokenWindow from the SourceConfig rate-limit parameters —
// the limiter kind the engine composes by default.
func FromParams(p models.RateLimitParams) *TokenWindow {
	permits := p.Permits
	if permits <= 0 {
		permits = 5
	}
	window := time.Duration(p.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Second
	}
	return NewTokenWindow(permits, window)
}

var _ interfaces.RateLimiter = (*TokenWindow)(nil)
var _ interfaces.RateLimiter = (*Backoff)(nil)
var _ interfaces.RateLimiter = (*Adaptive)(nil)

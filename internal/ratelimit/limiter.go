// Package ratelimit provides admission control for outbound send attempts:
// a one-minute sliding request window, a counting permit pool bounding
// concurrent attempts, and a consecutive-failure circuit breaker.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Window is the length of the sliding request window.
const Window = time.Minute

// ErrCircuitOpen is returned by CanProceed while the breaker stays open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the limiter settings.
type Config struct {
	MaxConcurrent       int
	RequestsPerMinute   int
	DelayBetweenBatches time.Duration
	FailureThreshold    int
	BreakerTimeout      time.Duration
	// BreakerRetryWait is the single extra wait CanProceed grants an open
	// breaker before denying. It never exceeds the remaining open time.
	BreakerRetryWait time.Duration
}

// State is a point-in-time view used by the status endpoint.
type State struct {
	Open                bool `json:"circuit_open"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
	InFlight            int  `json:"in_flight"`
	WindowCount         int  `json:"window_count"`
}

// Limiter is safe for concurrent use.
//
// Breaker policy: Closed -> Open after FailureThreshold consecutive failures;
// Open -> Closed once BreakerTimeout has elapsed, with the failure counter
// reset. There is no half-open probe: the first call after the timeout is
// admitted like any other.
type Limiter struct {
	cfg     Config
	log     zerolog.Logger
	permits chan struct{}

	mu       sync.Mutex
	window   []time.Time // admitted request timestamps, oldest first
	pending  int         // admissions not yet converted by RecordRequest
	fails    int
	open     bool
	openedAt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter, filling in defaults for non-positive settings.
func New(cfg Config, log zerolog.Logger) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 100
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}
	if cfg.BreakerRetryWait < 0 {
		cfg.BreakerRetryWait = 0
	}
	return &Limiter{
		cfg:     cfg,
		log:     log.With().Str("component", "ratelimit").Logger(),
		permits: make(chan struct{}, cfg.MaxConcurrent),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Config returns the effective settings.
func (l *Limiter) Config() Config { return l.cfg }

// CanProceed blocks until the breaker is closed, a permit is free and the
// sliding window has room, all at the moment of admission. On nil the caller
// holds one permit and must call RecordRequest, then exactly one of
// RecordSuccess, RecordFailure or Release.
func (l *Limiter) CanProceed(ctx context.Context) error {
	waited := false
	for {
		if err := l.checkBreaker(ctx, &waited); err != nil {
			return err
		}

		select {
		case l.permits <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		admitted, err := l.waitForWindow(ctx)
		if err != nil {
			l.releasePermit()
			return err
		}
		if admitted {
			return nil
		}
		// The breaker opened while this caller was parked.
		l.releasePermit()
	}
}

// waitForWindow reserves a window slot for a permit holder. It returns false
// without reserving when the breaker is open.
func (l *Limiter) waitForWindow(ctx context.Context) (bool, error) {
	for {
		wait, ok, open := l.reserve()
		if open {
			return false, nil
		}
		if ok {
			return true, nil
		}
		l.log.Debug().Dur("wait", wait).Msg("request window full, waiting")
		if err := l.sleep(ctx, wait); err != nil {
			return false, err
		}
	}
}

// RecordRequest stamps an admitted request into the window. Call it once per
// admission, right before the network call.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending > 0 {
		l.pending--
	}
	l.window = append(l.window, l.now())
}

// RecordSuccess releases the caller's permit and resets the failure streak.
func (l *Limiter) RecordSuccess() {
	l.releasePermit()
	l.mu.Lock()
	l.fails = 0
	l.mu.Unlock()
}

// RecordFailure releases the caller's permit and counts a failure, opening
// the breaker once the threshold is reached.
func (l *Limiter) RecordFailure() {
	l.releasePermit()

	l.mu.Lock()
	l.fails++
	tripped := false
	if !l.open && l.fails >= l.cfg.FailureThreshold {
		l.open = true
		l.openedAt = l.now()
		tripped = true
	}
	fails := l.fails
	l.mu.Unlock()

	if tripped {
		l.log.Warn().
			Int("consecutive_failures", fails).
			Dur("timeout", l.cfg.BreakerTimeout).
			Msg("circuit breaker opened")
	}
}

// Release returns the caller's permit without touching breaker state. It is
// used for attempts abandoned because the run was cancelled.
func (l *Limiter) Release() {
	l.releasePermit()
}

// DelayBetweenBatches sleeps the configured pause between groups.
func (l *Limiter) DelayBetweenBatches(ctx context.Context) error {
	return l.sleep(ctx, l.cfg.DelayBetweenBatches)
}

// Snapshot returns the current limiter state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return State{
		Open:                l.open,
		ConsecutiveFailures: l.fails,
		InFlight:            len(l.permits),
		WindowCount:         len(l.window),
	}
}

// checkBreaker admits when the breaker is closed. An open breaker gets one
// extra wait per CanProceed call, then a final check.
func (l *Limiter) checkBreaker(ctx context.Context, waited *bool) error {
	remaining, open := l.breakerRemaining()
	if !open {
		return nil
	}
	if *waited {
		return ErrCircuitOpen
	}
	*waited = true
	wait := l.cfg.BreakerRetryWait
	if remaining < wait {
		wait = remaining
	}
	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
	if _, open := l.breakerRemaining(); open {
		return ErrCircuitOpen
	}
	return nil
}

func (l *Limiter) breakerRemaining() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.breakerRemainingLocked(l.now())
}

// breakerRemainingLocked closes an expired breaker. l.mu must be held.
func (l *Limiter) breakerRemainingLocked(now time.Time) (time.Duration, bool) {
	if !l.open {
		return 0, false
	}
	elapsed := now.Sub(l.openedAt)
	if elapsed >= l.cfg.BreakerTimeout {
		l.open = false
		l.fails = 0
		l.openedAt = time.Time{}
		l.log.Info().Msg("circuit breaker closed")
		return 0, false
	}
	return l.cfg.BreakerTimeout - elapsed, true
}

// reserve claims a window slot, or reports how long until the oldest
// in-window request expires. Nothing is reserved while the breaker is open.
func (l *Limiter) reserve() (wait time.Duration, ok bool, open bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if _, tripped := l.breakerRemainingLocked(now); tripped {
		return 0, false, true
	}
	l.prune(now)
	if len(l.window)+l.pending < l.cfg.RequestsPerMinute {
		l.pending++
		return 0, true, false
	}
	if len(l.window) == 0 {
		// Only unconverted reservations hold the window.
		return 10 * time.Millisecond, false, false
	}
	wait = l.window[0].Add(Window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false, false
}

func (l *Limiter) prune(now time.Time) {
	i := 0
	for i < len(l.window) && now.Sub(l.window[i]) >= Window {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// releasePermit never blocks; releasing without a held permit is a no-op.
func (l *Limiter) releasePermit() {
	select {
	case <-l.permits:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

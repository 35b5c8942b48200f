// Package sender performs a single recipient's send attempt: limiter
// admission, the provider call with retry and backoff, and dry-run
// simulation.
package sender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DryRunIDPrefix prefixes every simulated message id.
const DryRunIDPrefix = "dry-run-"

// Limiter is the admission control the gate needs.
type Limiter interface {
	CanProceed(ctx context.Context) error
	RecordRequest()
	RecordSuccess()
	RecordFailure()
	Release()
}

// Options configures a Gate.
type Options struct {
	Limiter       Limiter
	Provider      ports.SMSProvider // unused in dry-run mode
	From          string
	RetryAttempts int // additional tries after the first
	RetryDelay    time.Duration
	DryRun        bool
	// DryRunFailureRate is the share of simulated failures; 0 means 5%.
	DryRunFailureRate float64
	Log               zerolog.Logger
}

// Gate is safe for concurrent use.
type Gate struct {
	opts Options
	log  zerolog.Logger

	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// New creates a Gate.
func New(opts Options) *Gate {
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.DryRunFailureRate <= 0 {
		opts.DryRunFailureRate = 0.05
	}
	return &Gate{
		opts:      opts,
		log:       opts.Log.With().Str("component", "sender").Logger(),
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// Send attempts delivery of message to r. Ordinary failures are reported in
// the result, never as a panic or error.
func (g *Gate) Send(ctx context.Context, r domain.Recipient, message string) domain.SendAttemptResult {
	started := time.Now()
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return domain.NewSkipped(r)
	}

	if err := g.opts.Limiter.CanProceed(ctx); err != nil {
		if ctx.Err() != nil {
			return domain.NewFailure(r, domain.MsgCancelled, started)
		}
		return domain.NewFailure(r, fmt.Sprintf("Rate limiter denied request: %v", err), started)
	}
	g.opts.Limiter.RecordRequest()

	// Exactly one terminal limiter call per admission, panics included.
	settle := g.opts.Limiter.RecordFailure
	defer func() { settle() }()

	var res domain.SendAttemptResult
	if g.opts.DryRun {
		res = g.simulate(ctx, r, started)
	} else {
		res = g.deliver(ctx, r, message, started)
	}

	switch {
	case res.IsSuccess:
		settle = g.opts.Limiter.RecordSuccess
	case res.Cancelled():
		settle = g.opts.Limiter.Release
	}
	return res
}

func (g *Gate) deliver(ctx context.Context, r domain.Recipient, message string, started time.Time) domain.SendAttemptResult {
	// In-flight calls are not aborted by cancellation; the provider client
	// enforces its own timeout.
	callCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 0; attempt <= g.opts.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return domain.NewFailure(r, domain.MsgCancelled, started)
		}

		resp, err := g.opts.Provider.SendMessage(callCtx, g.opts.From, r.PhoneNumber, message)
		if err == nil {
			if resp.Successful {
				return domain.NewSuccess(r, resp.MessageID, started)
			}
			msg := resp.ErrorMessage
			if msg == "" {
				msg = "Provider reported failure"
			}
			return domain.NewFailure(r, msg, started)
		}

		f := classify(err)
		if !f.retryable {
			g.log.Warn().Str("to", r.PhoneNumber).Err(err).Msg("send failed, not retrying")
			return domain.NewFailure(r, f.message, started)
		}
		lastErr = err
		if attempt == g.opts.RetryAttempts {
			break
		}

		delay := g.opts.RetryDelay * time.Duration(1<<uint(attempt+f.shift))
		g.log.Debug().
			Str("to", r.PhoneNumber).
			Int("attempt", attempt+2).
			Dur("delay", delay).
			Err(err).
			Msg("send retry scheduled")
		if err := g.sleep(ctx, delay); err != nil {
			return domain.NewFailure(r, domain.MsgCancelled, started)
		}
	}

	g.log.Warn().Str("to", r.PhoneNumber).Err(lastErr).Msg("send failed after retries")
	return domain.NewFailure(r, fmt.Sprintf("Failed after %d attempts: %v", g.opts.RetryAttempts+1, lastErr), started)
}

func (g *Gate) simulate(ctx context.Context, r domain.Recipient, started time.Time) domain.SendAttemptResult {
	latency := 100*time.Millisecond + time.Duration(g.randFloat()*float64(700*time.Millisecond))
	if err := g.sleep(ctx, latency); err != nil {
		return domain.NewFailure(r, domain.MsgCancelled, started)
	}
	if g.randFloat() < g.opts.DryRunFailureRate {
		return domain.NewFailure(r, "Simulated failure (dry run)", started)
	}
	return domain.NewSuccess(r, DryRunIDPrefix+uuid.NewString(), started)
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

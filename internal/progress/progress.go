// Package progress delivers run progress to the console and to the status
// endpoint.
package progress

import (
	"fmt"
	"sync"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Console logs progress lines, at most one per interval. The first and the
// final report are always logged.
type Console struct {
	log     zerolog.Logger
	limiter *rate.Limiter
}

// NewConsole creates a Console reporter. interval <= 0 logs every report.
func NewConsole(log zerolog.Logger, interval time.Duration) *Console {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &Console{
		log:     log.With().Str("component", "progress").Logger(),
		limiter: lim,
	}
}

func (c *Console) Report(p domain.Progress) {
	final := p.TotalItems > 0 && p.ProcessedItems >= p.TotalItems
	if !c.limiter.Allow() && !final {
		return
	}
	c.log.Info().
		Int("processed", p.ProcessedItems).
		Int("total", p.TotalItems).
		Int("success", p.SuccessfulItems).
		Int("failed", p.FailedItems).
		Str("percent", fmt.Sprintf("%.1f%%", p.Percent())).
		Dur("elapsed", p.Elapsed.Round(time.Millisecond)).
		Str("current", p.CurrentItem).
		Msg("progress")
}

// Tracker keeps the most recent report for readers on other goroutines.
type Tracker struct {
	mu     sync.RWMutex
	latest domain.Progress
	seen   bool
}

func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) Report(p domain.Progress) {
	t.mu.Lock()
	t.latest = p
	t.seen = true
	t.mu.Unlock()
}

// Latest returns the last report and whether one has arrived yet.
func (t *Tracker) Latest() (domain.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.seen
}

type fanout []ports.ProgressSink

// Fanout forwards every report to each non-nil sink in order.
func Fanout(sinks ...ports.ProgressSink) ports.ProgressSink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f fanout) Report(p domain.Progress) {
	for _, s := range f {
		s.Report(p)
	}
}

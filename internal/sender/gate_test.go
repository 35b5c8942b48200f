package sender

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/rs/zerolog"
)

type fakeLimiter struct {
	mu        sync.Mutex
	deny      error
	proceeds  int
	requests  int
	successes int
	failures  int
	releases  int
}

func (l *fakeLimiter) CanProceed(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proceeds++
	if l.deny != nil {
		return l.deny
	}
	return ctx.Err()
}

func (l *fakeLimiter) RecordRequest() { l.mu.Lock(); l.requests++; l.mu.Unlock() }
func (l *fakeLimiter) RecordSuccess() { l.mu.Lock(); l.successes++; l.mu.Unlock() }
func (l *fakeLimiter) RecordFailure() { l.mu.Lock(); l.failures++; l.mu.Unlock() }
func (l *fakeLimiter) Release()       { l.mu.Lock(); l.releases++; l.mu.Unlock() }

func (l *fakeLimiter) terminal() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.successes + l.failures + l.releases
}

// scriptedProvider answers with the scripted errors in order, then succeeds.
type scriptedProvider struct {
	mu     sync.Mutex
	script []error
	calls  int
	result ports.SendResult
	panics bool
}

func (p *scriptedProvider) SendMessage(ctx context.Context, from, to, body string) (ports.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.panics {
		panic("provider exploded")
	}
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		return ports.SendResult{}, err
	}
	if p.result == (ports.SendResult{}) {
		return ports.SendResult{MessageID: "msg-1", Successful: true}, nil
	}
	return p.result, nil
}

func newTestGate(lim *fakeLimiter, prov ports.SMSProvider, retries int, dryRun bool) (*Gate, *[]time.Duration) {
	g := New(Options{
		Limiter:       lim,
		Provider:      prov,
		From:          "+15550000000",
		RetryAttempts: retries,
		RetryDelay:    100 * time.Millisecond,
		DryRun:        dryRun,
		Log:           zerolog.Nop(),
	})
	var slept []time.Duration
	var mu sync.Mutex
	g.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return g, &slept
}

var mario = domain.Recipient{DisplayName: "Mario", PhoneNumber: "+393331234567"}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{script: []error{
		&ports.ProviderError{StatusCode: 500},
		&ports.ProviderError{StatusCode: 500},
	}}
	g, slept := newTestGate(lim, prov, 3, false)

	res := g.Send(context.Background(), mario, "hi")
	if !res.IsSuccess || res.MessageID != "msg-1" {
		t.Fatalf("expected success, got %+v", res)
	}
	if prov.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", prov.calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("expected backoff %v, got %v", want, *slept)
	}
	if lim.requests != 1 || lim.successes != 1 || lim.terminal() != 1 {
		t.Fatalf("unexpected limiter calls: %+v", lim)
	}
}

func TestRateLimitedBacksOffHarder(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{script: []error{&ports.ProviderError{StatusCode: 429}}}
	g, slept := newTestGate(lim, prov, 3, false)

	res := g.Send(context.Background(), mario, "hi")
	if !res.IsSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(*slept) != 1 || (*slept)[0] != 400*time.Millisecond {
		t.Fatalf("expected a single 400ms backoff, got %v", *slept)
	}
}

func TestFatalStatusIsNotRetried(t *testing.T) {
	cases := map[int]string{
		400: "Bad request",
		401: "Authentication failed",
		403: "Forbidden",
		404: "Not found",
		422: "Client error",
	}
	for code, label := range cases {
		lim := &fakeLimiter{}
		prov := &scriptedProvider{script: []error{&ports.ProviderError{StatusCode: code, Message: "nope"}}}
		g, slept := newTestGate(lim, prov, 3, false)

		res := g.Send(context.Background(), mario, "hi")
		if res.IsSuccess || !strings.HasPrefix(res.ErrorMessage, label) {
			t.Fatalf("status %d: expected %q failure, got %+v", code, label, res)
		}
		if prov.calls != 1 || len(*slept) != 0 {
			t.Fatalf("status %d: expected no retry, got %d calls", code, prov.calls)
		}
		if lim.failures != 1 || lim.terminal() != 1 {
			t.Fatalf("status %d: expected one RecordFailure, got %+v", code, lim)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	lim := &fakeLimiter{}
	unavailable := &ports.ProviderError{StatusCode: 503, Message: "down"}
	prov := &scriptedProvider{script: []error{unavailable, unavailable, unavailable, unavailable}}
	g, slept := newTestGate(lim, prov, 2, false)

	res := g.Send(context.Background(), mario, "hi")
	if res.IsSuccess || !strings.Contains(res.ErrorMessage, "Failed after 3 attempts") {
		t.Fatalf("expected exhausted failure, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "down") {
		t.Fatalf("expected last error message, got %q", res.ErrorMessage)
	}
	if prov.calls != 3 || len(*slept) != 2 {
		t.Fatalf("expected 3 calls and 2 sleeps, got %d/%d", prov.calls, len(*slept))
	}
	if lim.failures != 1 || lim.terminal() != 1 {
		t.Fatalf("unexpected limiter calls: %+v", lim)
	}
}

func TestTransportErrorsAreRetried(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{script: []error{errors.New("connection reset")}}
	g, _ := newTestGate(lim, prov, 1, false)

	if res := g.Send(context.Background(), mario, "hi"); !res.IsSuccess {
		t.Fatalf("expected success after transport retry, got %+v", res)
	}
	if prov.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", prov.calls)
	}
}

func TestLogicalFailureIsFatal(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{result: ports.SendResult{Successful: false, ErrorMessage: "blocked number"}}
	g, _ := newTestGate(lim, prov, 3, false)

	res := g.Send(context.Background(), mario, "hi")
	if res.IsSuccess || res.ErrorMessage != "blocked number" {
		t.Fatalf("expected provider failure, got %+v", res)
	}
	if prov.calls != 1 || lim.failures != 1 {
		t.Fatalf("expected one call and one failure, got %d/%d", prov.calls, lim.failures)
	}
}

func TestEmptyPhoneSkipsLimiter(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{}
	g, _ := newTestGate(lim, prov, 3, false)

	res := g.Send(context.Background(), domain.Recipient{DisplayName: "Nobody"}, "hi")
	if !res.Skipped || res.ErrorMessage != domain.MsgEmptyPhone {
		t.Fatalf("expected skipped result, got %+v", res)
	}
	if lim.proceeds != 0 || prov.calls != 0 {
		t.Fatalf("expected no limiter or provider interaction")
	}
}

func TestLimiterDenial(t *testing.T) {
	lim := &fakeLimiter{deny: errors.New("circuit breaker is open")}
	prov := &scriptedProvider{}
	g, _ := newTestGate(lim, prov, 3, false)

	res := g.Send(context.Background(), mario, "hi")
	if res.IsSuccess || !strings.Contains(res.ErrorMessage, "circuit breaker is open") {
		t.Fatalf("expected denial failure, got %+v", res)
	}
	if prov.calls != 0 || lim.requests != 0 || lim.terminal() != 0 {
		t.Fatalf("denied attempt must not touch provider or permits: %+v", lim)
	}
}

func TestCancellationDuringBackoff(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{script: []error{&ports.ProviderError{StatusCode: 500}}}
	g, _ := newTestGate(lim, prov, 3, false)

	ctx, cancel := context.WithCancel(context.Background())
	g.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	res := g.Send(ctx, mario, "hi")
	if res.ErrorMessage != domain.MsgCancelled || !res.Cancelled() {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	if prov.calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", prov.calls)
	}
	if lim.releases != 1 || lim.terminal() != 1 {
		t.Fatalf("expected a single permit release, got %+v", lim)
	}
}

func TestPanicStillReleasesPermit(t *testing.T) {
	lim := &fakeLimiter{}
	g, _ := newTestGate(lim, &scriptedProvider{panics: true}, 0, false)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		g.Send(context.Background(), mario, "hi")
	}()

	if lim.failures != 1 || lim.terminal() != 1 {
		t.Fatalf("expected RecordFailure on panic path, got %+v", lim)
	}
}

func TestDryRunNeverCallsProvider(t *testing.T) {
	lim := &fakeLimiter{}
	prov := &scriptedProvider{}
	g, slept := newTestGate(lim, prov, 3, true)
	g.randFloat = func() float64 { return 0.5 }

	for i := 0; i < 10; i++ {
		res := g.Send(context.Background(), mario, "hi")
		if !res.IsSuccess || !strings.HasPrefix(res.MessageID, DryRunIDPrefix) {
			t.Fatalf("expected simulated success, got %+v", res)
		}
	}
	if prov.calls != 0 {
		t.Fatalf("dry run must not call the provider, got %d calls", prov.calls)
	}
	for _, d := range *slept {
		if d < 100*time.Millisecond || d > 800*time.Millisecond {
			t.Fatalf("simulated latency out of range: %v", d)
		}
	}
	if lim.successes != 10 {
		t.Fatalf("expected 10 successes recorded, got %d", lim.successes)
	}
}

func TestDryRunSimulatedFailure(t *testing.T) {
	lim := &fakeLimiter{}
	g, _ := newTestGate(lim, nil, 3, true)
	g.randFloat = func() float64 { return 0.01 }

	res := g.Send(context.Background(), mario, "hi")
	if res.IsSuccess || res.MessageID != "" {
		t.Fatalf("expected simulated failure, got %+v", res)
	}
	if lim.failures != 1 {
		t.Fatalf("expected RecordFailure, got %+v", lim)
	}
}

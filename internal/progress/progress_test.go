package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"bulksms/internal/domain"

	"github.com/rs/zerolog"
)

func TestConsoleThrottlesButKeepsFinal(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(zerolog.New(&buf), time.Hour)

	for i := 1; i <= 4; i++ {
		c.Report(domain.Progress{TotalItems: 4, ProcessedItems: i})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected first and final line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], `"processed":4`) || !strings.Contains(lines[1], `"percent":"100.0%"`) {
		t.Fatalf("unexpected final line %q", lines[1])
	}
}

func TestTrackerAndFanout(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Latest(); ok {
		t.Fatalf("fresh tracker must be empty")
	}

	other := NewTracker()
	sink := Fanout(tr, nil, other)
	sink.Report(domain.Progress{TotalItems: 10, ProcessedItems: 3, CurrentItem: "x"})

	for _, tk := range []*Tracker{tr, other} {
		p, ok := tk.Latest()
		if !ok || p.ProcessedItems != 3 || p.CurrentItem != "x" {
			t.Fatalf("unexpected tracked progress %+v", p)
		}
	}
}

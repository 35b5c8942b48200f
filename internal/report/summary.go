// Package report formats the end-of-run summary.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bulksms/internal/domain"
)

// Format renders the human-readable summary of a run.
func Format(st *domain.BatchRunState) string {
	var b strings.Builder
	line := strings.Repeat("=", 48)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "SMS BATCH SUMMARY")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Run ID:        %s\n", st.RunID)
	fmt.Fprintf(&b, "Status:        %s\n", st.Status)
	fmt.Fprintf(&b, "Started:       %s\n", st.StartTime.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "Finished:      %s\n", st.EndTime.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "Duration:      %s\n", st.Duration.Round(time.Millisecond))
	fmt.Fprintln(&b, strings.Repeat("-", 48))
	fmt.Fprintf(&b, "Total:         %d\n", st.TotalRecords)
	fmt.Fprintf(&b, "Processed:     %d\n", st.Processed())
	fmt.Fprintf(&b, "Successful:    %d\n", st.SuccessfulSends)
	fmt.Fprintf(&b, "Failed:        %d\n", st.FailedSends)
	fmt.Fprintf(&b, "Skipped:       %d\n", st.SkippedRecords)
	fmt.Fprintf(&b, "Success rate:  %.2f%%\n", st.SuccessRate())

	if errs := topErrors(st.Results, 5); len(errs) > 0 {
		fmt.Fprintln(&b, strings.Repeat("-", 48))
		fmt.Fprintln(&b, "Most frequent errors:")
		for _, e := range errs {
			fmt.Fprintf(&b, "  %4d  %s\n", e.count, e.message)
		}
	}
	fmt.Fprintln(&b, line)
	return b.String()
}

// WriteSummary writes Format(st) to path, followed by the results file location.
func WriteSummary(path string, st *domain.BatchRunState, resultsPath string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	body := Format(st)
	if resultsPath != "" {
		body += fmt.Sprintf("Results file:  %s\n", resultsPath)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

type errorCount struct {
	message string
	count   int
}

// topErrors groups failure messages, most frequent first, ties in first-seen order.
func topErrors(results []domain.SendAttemptResult, limit int) []errorCount {
	idx := map[string]int{}
	var out []errorCount
	for _, r := range results {
		if r.IsSuccess || r.ErrorMessage == "" {
			continue
		}
		if i, ok := idx[r.ErrorMessage]; ok {
			out[i].count++
			continue
		}
		idx[r.ErrorMessage] = len(out)
		out = append(out, errorCount{message: r.ErrorMessage, count: 1})
	}
	// Stable insertion sort keeps first-seen order among equal counts.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].count > out[j-1].count; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

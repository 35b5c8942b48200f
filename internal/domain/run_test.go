package domain

import "testing"

func TestFoldCounters(t *testing.T) {
	st := NewBatchRunState(4)
	r := Recipient{DisplayName: "Mario", PhoneNumber: "+393331234567"}

	st.Fold(SendAttemptResult{IsSuccess: true})
	st.Fold(SendAttemptResult{ErrorMessage: "boom"})
	st.Fold(NewSkipped(Recipient{DisplayName: "x"}))
	st.Fold(NewFailure(r, "nope", st.StartTime))

	if st.SuccessfulSends != 1 || st.FailedSends != 2 || st.SkippedRecords != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.Processed() != st.TotalRecords {
		t.Fatalf("expected processed == total, got %d", st.Processed())
	}
	if got := st.SuccessRate(); got != 25 {
		t.Fatalf("expected 25%% success rate, got %v", got)
	}
	if len(st.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(st.Results))
	}
}

func TestSkippedResult(t *testing.T) {
	res := NewSkipped(Recipient{DisplayName: "Anna"})
	if res.IsSuccess || !res.Skipped {
		t.Fatalf("expected skipped failure, got %+v", res)
	}
	if res.ErrorMessage != MsgEmptyPhone {
		t.Fatalf("unexpected message %q", res.ErrorMessage)
	}
	if res.Status() != StatusFailed {
		t.Fatalf("expected FAILED status, got %s", res.Status())
	}
}

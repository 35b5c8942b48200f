package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one batch run.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
)

// BatchRunState aggregates one invocation. It is owned by the dispatcher and
// only mutated from its fold step, so it carries no lock.
type BatchRunState struct {
	RunID           uuid.UUID
	Status          RunStatus
	TotalRecords    int
	SuccessfulSends int
	FailedSends     int
	SkippedRecords  int
	Results         []SendAttemptResult
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// NewBatchRunState creates a not-yet-started run for total recipients.
func NewBatchRunState(total int) *BatchRunState {
	return &BatchRunState{
		RunID:        uuid.New(),
		Status:       RunNotStarted,
		TotalRecords: total,
		Results:      make([]SendAttemptResult, 0, total),
	}
}

// Fold records one result and updates the counters.
func (s *BatchRunState) Fold(r SendAttemptResult) {
	switch {
	case r.Skipped:
		s.SkippedRecords++
	case r.IsSuccess:
		s.SuccessfulSends++
	default:
		s.FailedSends++
	}
	s.Results = append(s.Results, r)
}

// Processed is the number of recipients with a recorded outcome.
func (s *BatchRunState) Processed() int {
	return s.SuccessfulSends + s.FailedSends + s.SkippedRecords
}

// SuccessRate is the share of successful sends over processed records, in percent.
func (s *BatchRunState) SuccessRate() float64 {
	p := s.Processed()
	if p == 0 {
		return 0
	}
	return float64(s.SuccessfulSends) / float64(p) * 100
}

// Finish stamps the end of the run.
func (s *BatchRunState) Finish(status RunStatus) {
	s.Status = status
	s.EndTime = time.Now().UTC()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// Progress is the cumulative snapshot handed to progress sinks after each group.
type Progress struct {
	TotalItems      int           `json:"total_items"`
	ProcessedItems  int           `json:"processed_items"`
	SuccessfulItems int           `json:"successful_items"`
	FailedItems     int           `json:"failed_items"`
	Elapsed         time.Duration `json:"elapsed"`
	CurrentItem     string        `json:"current_item"`
}

// Percent returns completion in the range 0..100.
func (p Progress) Percent() float64 {
	if p.TotalItems == 0 {
		return 100
	}
	return float64(p.ProcessedItems) / float64(p.TotalItems) * 100
}

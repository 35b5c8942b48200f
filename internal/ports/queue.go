package ports

import (
	"context"
	"time"

	"bulksms/internal/domain"

	"github.com/google/uuid"
)

// AttemptEvent is the wire form of one persisted attempt, published for
// downstream reporting and consumed by the result archiver.
type AttemptEvent struct {
	RunID       uuid.UUID `json:"run_id"`
	Seq         int       `json:"seq"`
	Phone       string    `json:"phone"`
	DisplayName string    `json:"display_name"`
	Success     bool      `json:"success"`
	Skipped     bool      `json:"skipped"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// NewAttemptEvent converts the seq-th result of a run.
func NewAttemptEvent(runID uuid.UUID, seq int, r domain.SendAttemptResult) AttemptEvent {
	return AttemptEvent{
		RunID:       runID,
		Seq:         seq,
		Phone:       r.RecipientPhone,
		DisplayName: r.DisplayName,
		Success:     r.IsSuccess,
		Skipped:     r.Skipped,
		MessageID:   r.MessageID,
		Error:       r.ErrorMessage,
		SentAt:      r.SentAt,
		DurationMS:  r.Duration.Milliseconds(),
	}
}

// Status is "skipped", "success" or "failed".
func (e AttemptEvent) Status() string {
	switch {
	case e.Skipped:
		return "skipped"
	case e.Success:
		return "success"
	default:
		return "failed"
	}
}

// ResultSink durably records completed attempts.
type ResultSink interface {
	// Write enqueues one result; it may block only while the queue is full.
	Write(ctx context.Context, result domain.SendAttemptResult, recipient domain.Recipient) error
}

// ProgressSink receives cumulative progress after every group.
type ProgressSink interface {
	Report(p domain.Progress)
}

// EventConsumer consumes attempt events from the message queue.
type EventConsumer interface {
	// Consume blocks until ctx is cancelled or a fatal error occurs.
	Consume(ctx context.Context, handler func(ctx context.Context, ev AttemptEvent) error) error
}

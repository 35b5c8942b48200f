package domain

import (
	"errors"
	"time"
)

// Status labels used in persisted result rows.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Messages for outcomes that never reach the provider.
const (
	MsgEmptyPhone = "Phone number is empty"
	MsgCancelled  = "Operation was cancelled"
)

// SendAttemptResult is the immutable outcome of one recipient's send attempt.
// Empty MessageID / ErrorMessage stand for "not present".
type SendAttemptResult struct {
	RecipientPhone string
	DisplayName    string
	IsSuccess      bool
	Skipped        bool // no attempt was made (empty phone number)
	MessageID      string
	ErrorMessage   string
	SentAt         time.Time // UTC
	Duration       time.Duration
}

// Status returns the persisted status label.
func (r SendAttemptResult) Status() string {
	if r.IsSuccess {
		return StatusSuccess
	}
	return StatusFailed
}

// Cancelled reports whether the attempt ended because the run was cancelled.
func (r SendAttemptResult) Cancelled() bool {
	return !r.IsSuccess && r.ErrorMessage == MsgCancelled
}

// NewSuccess builds a successful result for r.
func NewSuccess(r Recipient, messageID string, started time.Time) SendAttemptResult {
	return SendAttemptResult{
		RecipientPhone: r.PhoneNumber,
		DisplayName:    r.DisplayName,
		IsSuccess:      true,
		MessageID:      messageID,
		SentAt:         time.Now().UTC(),
		Duration:       time.Since(started),
	}
}

// NewFailure builds a failed result for r carrying msg.
func NewFailure(r Recipient, msg string, started time.Time) SendAttemptResult {
	return SendAttemptResult{
		RecipientPhone: r.PhoneNumber,
		DisplayName:    r.DisplayName,
		ErrorMessage:   msg,
		SentAt:         time.Now().UTC(),
		Duration:       time.Since(started),
	}
}

// NewSkipped builds the result for a recipient without a phone number.
func NewSkipped(r Recipient) SendAttemptResult {
	res := NewFailure(r, MsgEmptyPhone, time.Now())
	res.Skipped = true
	res.Duration = 0
	return res
}

// Domain errors
var (
	ErrNoRecipients  = errors.New("no recipients")
	ErrEmptyTemplate = errors.New("message template is empty")
)

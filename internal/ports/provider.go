package ports

import (
	"context"
	"fmt"
	"net/http"
)

// SendResult is the provider's immediate answer to a submission.
type SendResult struct {
	MessageID    string // External message ID assigned by the provider
	Successful   bool
	ErrorMessage string
}

// SMSProvider abstracts the external SMS gateway.
type SMSProvider interface {
	// SendMessage submits one SMS. A non-2xx answer is reported as *ProviderError.
	SendMessage(ctx context.Context, from, to, body string) (SendResult, error)
}

// ProviderError carries the HTTP status of a rejected submission.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, msg)
}

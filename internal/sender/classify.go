package sender

import (
	"errors"
	"fmt"
	"net/http"

	"bulksms/internal/ports"
)

// failure describes how one provider error is handled.
type failure struct {
	retryable bool
	// shift is added to the attempt number when computing the backoff
	// exponent; rate-limit answers back off harder.
	shift   int
	message string
}

func classify(err error) failure {
	var pe *ports.ProviderError
	if !errors.As(err, &pe) {
		// Transport errors and timeouts.
		return failure{retryable: true, message: fmt.Sprintf("Transport error: %v", err)}
	}

	code := pe.StatusCode
	switch {
	case code == http.StatusTooManyRequests:
		return failure{retryable: true, shift: 2, message: label("Rate limited", pe)}
	case code >= 500:
		return failure{retryable: true, message: label("Server error", pe)}
	case code == http.StatusBadRequest:
		return failure{message: label("Bad request", pe)}
	case code == http.StatusUnauthorized:
		return failure{message: label("Authentication failed", pe)}
	case code == http.StatusForbidden:
		return failure{message: label("Forbidden", pe)}
	case code == http.StatusNotFound:
		return failure{message: label("Not found", pe)}
	case code >= 400:
		return failure{message: label("Client error", pe)}
	default:
		return failure{message: label("Unexpected provider response", pe)}
	}
}

func label(kind string, pe *ports.ProviderError) string {
	if pe.Message == "" {
		return fmt.Sprintf("%s (%d)", kind, pe.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", kind, pe.StatusCode, pe.Message)
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by every client. Callers branch with errors.Is.
var (
	// ErrTransient marks retriable failures: network errors, 5xx, 429.
	ErrTransient = errors.New("transient provider error")
	// ErrPermanent marks non-retriable 4xx semantic rejections.
	ErrPermanent = errors.New("permanent provider error")
	// ErrTimeout marks inactivity-window or total-budget expiry.
	ErrTimeout = errors.New("provider timeout")
	// ErrCanceled marks explicit cancellation of the call.
	ErrCanceled = errors.New("provider call canceled")
)

// classifyStatus maps an HTTP status code to the error taxonomy. The body is
// never included: provider error bodies can echo prompt content.
func classifyStatus(name string, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status %d: %w", name, status, ErrTransient)
	case status >= 500:
		return fmt.Errorf("%s: status %d: %w", name, status, ErrTransient)
	case status >= 400:
		return fmt.Errorf("%s: status %d: %w", name, status, ErrPermanent)
	default:
		return fmt.Errorf("%s: unexpected status %d: %w", name, status, ErrTransient)
	}
}

// classifyErr maps transport/context errors to the taxonomy.
func classifyErr(name string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", name, ErrCanceled)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", name, ErrTimeout)
	default:
		return fmt.Errorf("%s: %v: %w", name, err, ErrTransient)
	}
}

// Package api provides the REST client for the file service and its error types.
package api

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/rescale/filehub/internal/models"
)

// ErrNoDedupReport is returned when the server has no valid duplicate-detection
// job yet (404 from /dedup/latest/). Pollers treat it like a pending job.
var ErrNoDedupReport = errors.New("no duplicate report available")

// ValidationError rejects a call before any request is issued.
type ValidationError = models.ValidationError

// TransportError means a request failed to complete: network failure or a
// non-success HTTP status.
type TransportError struct {
	Op         string // logical operation, e.g. "list files"
	Method     string
	Path       string
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body for diagnostics
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": %s %s returned %d", e.Method, e.Path, e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure worth retrying later:
// network errors, 429, and 5xx. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch {
	case te.StatusCode == 0:
		return true
	case te.StatusCode == nethttp.StatusTooManyRequests:
		return true
	case te.StatusCode >= 500:
		return true
	}
	return false
}

// IsValidationError reports whether err was rejected client-side.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusCode extracts the HTTP status from a TransportError, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

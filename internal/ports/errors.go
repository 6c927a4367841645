package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so callers can
// branch on the failure category with errors.Is.
var (
	// ErrValidation marks missing or malformed input (e.g. credentials)
	// rejected before any network call. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNetwork marks a request that failed at the transport level
	// (DNS, connection refused). Retryable.
	ErrNetwork = errors.New("network request failed")

	// ErrTimeout marks an operation aborted by its deadline, distinct from
	// other network failures so callers can report "took too long".
	ErrTimeout = errors.New("operation timed out")

	// ErrProtocol marks a non-2xx status, or a 2xx response whose body
	// could not be decoded.
	ErrProtocol = errors.New("protocol error")

	// ErrPersistence marks a failed durable-store call. Non-fatal for a
	// sync: the orchestrator degrades to the local cache instead.
	ErrPersistence = errors.New("persistence failed")

	// ErrRateLimited marks a call rejected by the client-side limiter
	// before reaching the network.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRetryExhausted marks a request that failed after the full retry
	// budget; the last attempt's error is wrapped alongside it.
	ErrRetryExhausted = errors.New("retries exhausted")
)

// ProtocolError carries the status code and raw body of a response that broke
// the expected contract. The raw text is kept as a diagnostic rather than
// silently swallowed.
type ProtocolError struct {
	StatusCode int
	RawBody    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: status %d: %s", e.StatusCode, truncate(e.RawBody, 256))
}

// Is makes ProtocolError match ErrProtocol under errors.Is.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

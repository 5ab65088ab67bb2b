package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a sync is already running for the endpoint
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSourceDisabled indicates the source is gated off in configuration
	ErrSourceDisabled = errors.New("source is disabled")

	// ErrConnectorNotFound indicates the connector kind is not registered
	ErrConnectorNotFound = errors.New("connector not found")

	// ErrPoolExhausted indicates a caller timed out waiting for a pool slot
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrCircuitOpen indicates the target's circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrMissingIdentifier indicates a record carries no identifying field at all
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrConfiguration indicates bad credentials or a missing required setting.
	// Configuration errors abort the run immediately and are never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient indicates a connectivity failure that may succeed on retry
	// (timeout, connection reset). Connectors wrap such failures with this
	// sentinel so the retry and circuit breaker layers can classify them.
	ErrTransient = errors.New("transient connectivity error")
)

// IsTransient reports whether an error should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether an error must abort the run without retries.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

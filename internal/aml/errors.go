package aml

import (
	"context"
	"errors"
	"fmt"
)

// Failure conditions surfaced by the engine. Callers match them with errors.Is.
var (
	// ErrGatewayUnavailable means the ledger API kept failing transiently
	// until the retry budget ran out.
	ErrGatewayUnavailable = errors.New("ledger gateway unavailable")

	// ErrGatewayProtocol means the ledger API answered with something that
	// cannot be parsed. It is never retried.
	ErrGatewayProtocol = errors.New("ledger gateway protocol error")

	// ErrTimeout means the caller's deadline passed before a result was ready.
	// The underlying computation may still complete and be cached.
	ErrTimeout = errors.New("analysis timed out")

	// ErrCancelled means the caller abandoned the request.
	ErrCancelled = errors.New("analysis cancelled")

	// ErrInvalidAddress is returned before any network call is made.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrBlacklistWriteConflict is reported by the persistence layer when a
	// concurrent writer touched the same entry.
	ErrBlacklistWriteConflict = errors.New("blacklist write conflict")

	// ErrInvalidReport flags a contract violation when assembling a report.
	ErrInvalidReport = errors.New("invalid report input")
)

// FromContext maps a context error onto ErrTimeout or ErrCancelled, keeping
// the original in the chain. Other errors pass through unchanged.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrCancelled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	default:
		return err
	}
}

package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks lookups and removals that missed (registry drop on an
	// unknown sequence id, inspection of an absent cache key).
	ErrNotFound = errors.New("not found")
	// ErrComputation marks a derived computation that failed. Results carrying
	// this marker are never cached.
	ErrComputation = errors.New("computation failure")
	// ErrFlush marks an I/O failure while persisting dirty cache entries or
	// committing a bulk batch. Flush failures are retryable: the dirty set or
	// pending queue is left intact.
	ErrFlush = errors.New("flush failure")
	// ErrBatch marks a rejected bulk batch. The whole transaction was rolled
	// back; no partial rows are visible in the sink.
	ErrBatch = errors.New("batch failure")
	// ErrValidation marks malformed input (bad resource files, bad keys).
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrFlush
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether an error should be retried on the next cycle
// rather than surfaced to the host immediately.
func Retryable(err error) bool {
	return errors.Is(err, ErrFlush)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

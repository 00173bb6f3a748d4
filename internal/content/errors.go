// Package content implements network content acquisition and extraction:
// bounded-concurrency fetch with retry/backoff and failure classification,
// and boilerplate-stripping text extraction.
package content

import "fmt"

// ErrorKind classifies a content failure. The kind decides retry
// behavior and is persisted in the item's fetch record.
type ErrorKind string

// Failure taxonomy.
const (
	KindValidation    ErrorKind = "validation"
	KindSize          ErrorKind = "size"
	KindContentType   ErrorKind = "content_type"
	KindPermanentHTTP ErrorKind = "permanent_http_error"
	KindHTTP          ErrorKind = "http_error"
	KindTimeout       ErrorKind = "timeout"
	KindNetwork       ErrorKind = "network"
	KindExtraction    ErrorKind = "extraction"
)

// Error is an item-scoped content failure. It never propagates out of a
// stage's batch loop; it is logged, counted, and persisted.
type Error struct {
	URL     string
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.URL)
}

// Retryable reports whether the failure is transient. Only plain HTTP
// errors outside the permanent set, timeouts, and network-level failures
// qualify for the backoff loop.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindHTTP, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

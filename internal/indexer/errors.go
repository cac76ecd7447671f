package indexer

import "errors"

// Error taxonomy. Callers wrap these with context and test with errors.Is.
var (
	// ErrFetch marks a sitemap document that could not be retrieved.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks a sitemap document that is not a sitemap index or URL set.
	ErrParse = errors.New("parse failed")
	// ErrAuth marks a credential whose key could not be exchanged for a token.
	ErrAuth = errors.New("authentication failed")
	// ErrQuotaExceeded marks a batch rejected with HTTP 429.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrTransport marks a batch request that never produced an HTTP response.
	ErrTransport = errors.New("transport error")
	// ErrUnexpectedStatus marks a batch response other than 200 or 429.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

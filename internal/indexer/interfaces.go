package indexer

import (
	"context"
	"io"
	"time"
)

// URLLedger is the durable record of discovered, succeeded, and failed URLs.
// Implementations serialize all appends behind a single writer.
type URLLedger interface {
	Discovered(ctx context.Context) ([]string, error)
	AppendDiscovered(ctx context.Context, urls []string) error
	Succeeded(ctx context.Context) ([]string, error)
	Failed(ctx context.Context) ([]string, error)
	RecordSuccess(ctx context.Context, urls []string) error
	RecordFailure(ctx context.Context, urls []string) error
}

// QuotaLedger records per-credential submissions tagged with their calendar date.
type QuotaLedger interface {
	CountOn(ctx context.Context, credentialID, date string) (int, error)
	Record(ctx context.Context, credentialID, date string, urls []string) error
	// Prune drops every entry for the credential not dated keepDate.
	Prune(ctx context.Context, credentialID, keepDate string) error
}

// Snapshotter exposes the raw ledger contents for archiving, keyed by file name.
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string][]byte, error)
}

// Fetcher retrieves a sitemap document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Authenticator exchanges a credential for a bearer token.
type Authenticator interface {
	Token(ctx context.Context, cred Credential) (string, error)
}

// Pacer blocks until the keyed stream may send its next request.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run summaries to a notification channel.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

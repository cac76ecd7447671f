package indexer

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultDailyCap is the per-credential daily submission allowance of the Indexing API.
const DefaultDailyCap = 200

// MaxChunkSize is the largest number of sub-requests the batch endpoint accepts.
const MaxChunkSize = 100

// Operation selects the notification type sent for every URL in a run.
type Operation string

// Supported notification types.
const (
	OperationUpdate Operation = "URL_UPDATED"
	OperationDelete Operation = "URL_DELETED"
)

// OperationFromDeleteFlag maps the CLI delete flag onto an Operation.
func OperationFromDeleteFlag(deleteMode bool) Operation {
	if deleteMode {
		return OperationDelete
	}
	return OperationUpdate
}

// Credential is a service account identity with its key material and daily cap.
type Credential struct {
	ID       string `json:"id"`
	KeyFile  string `json:"key_file"`
	DailyCap int    `json:"daily_cap"`
}

// CredentialFromKeyFile derives a Credential from a key file path. The ID is the
// file's base name without extension, so service_account1.json becomes service_account1.
func CredentialFromKeyFile(path string, dailyCap int) Credential {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	if dailyCap <= 0 {
		dailyCap = DefaultDailyCap
	}
	return Credential{ID: id, KeyFile: path, DailyCap: dailyCap}
}

// NodeKind distinguishes sitemap index documents from URL sets.
type NodeKind int

// Sitemap document kinds.
const (
	NodeIndex NodeKind = iota + 1
	NodeLeafSet
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case NodeIndex:
		return "sitemapindex"
	case NodeLeafSet:
		return "urlset"
	default:
		return "unknown"
	}
}

// SitemapNode is one parsed sitemap document. For an index, Locations lists child
// sitemaps; for a leaf set it lists page URLs. Both keep document order.
// Rejected holds locations dropped because they contain control characters.
type SitemapNode struct {
	Kind      NodeKind
	Locations []string
	Rejected  []string
}

// Outcome is the classification of a submitted URL.
type Outcome string

// Submission outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Assignment is the slice of the pending queue scheduled onto one credential.
type Assignment struct {
	Credential Credential
	Remaining  int
	URLs       []string
	Chunks     [][]string
}

// CrawlResult summarizes a sitemap crawl.
type CrawlResult struct {
	SitemapsVisited int `json:"sitemaps_visited"`
	SitemapsFailed  int `json:"sitemaps_failed"`
	NewURLs         int `json:"new_urls"`
	TotalDiscovered int `json:"total_discovered"`
}

// CredentialReport captures what happened to one credential's assignment.
type CredentialReport struct {
	CredentialID string `json:"credential_id"`
	Remaining    int    `json:"remaining"`
	Assigned     int    `json:"assigned"`
	Chunks       int    `json:"chunks"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	Error        string `json:"error,omitempty"`
}

// Summary is the result of one pipeline run.
type Summary struct {
	RunID       string             `json:"run_id"`
	Date        string             `json:"date"`
	Operation   Operation          `json:"operation"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Crawl       *CrawlResult       `json:"crawl,omitempty"`
	Pending     int                `json:"pending"`
	Capacity    int                `json:"capacity"`
	Credentials []CredentialReport `json:"credentials"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
}

// DateKey formats t as the UTC calendar date used to tag quota ledger entries.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Pending returns the discovered URLs that have not been recorded as succeeded or
// failed, in discovery order and without duplicates.
func Pending(discovered, succeeded, failed []string) []string {
	handled := make(map[string]struct{}, len(succeeded)+len(failed))
	for _, u := range succeeded {
		handled[u] = struct{}{}
	}
	for _, u := range failed {
		handled[u] = struct{}{}
	}
	out := make([]string, 0, len(discovered))
	for _, u := range discovered {
		if u == "" {
			continue
		}
		if _, ok := handled[u]; ok {
			continue
		}
		handled[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

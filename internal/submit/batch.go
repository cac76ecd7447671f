// Package submit sends URL notification batches to the Indexing API and records
// their outcomes.
package submit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

// DefaultPublishPath is the path each embedded sub-request targets.
const DefaultPublishPath = "/v3/urlNotifications:publish"

type notification struct {
	URL  string            `json:"url"`
	Type indexer.Operation `json:"type"`
}

// BuildBatch renders urls as a multipart/mixed body with one embedded
// publish request per URL. It returns the body and its Content-Type.
func BuildBatch(op indexer.Operation, publishPath string, urls []string) ([]byte, string, error) {
	if len(urls) == 0 {
		return nil, "", errors.New("batch has no urls")
	}
	if len(urls) > indexer.MaxChunkSize {
		return nil, "", fmt.Errorf("batch has %d urls, limit is %d", len(urls), indexer.MaxChunkSize)
	}
	if publishPath == "" {
		publishPath = DefaultPublishPath
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, u := range urls {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/http")
		header.Set("Content-ID", fmt.Sprintf("<item-%d>", i))
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create part %d: %w", i, err)
		}
		payload, err := json.Marshal(notification{URL: u, Type: op})
		if err != nil {
			return nil, "", fmt.Errorf("encode notification: %w", err)
		}
		if _, err := fmt.Fprintf(part,
			"%s %s HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s\r\n",
			http.MethodPost, publishPath, len(payload), payload,
		); err != nil {
			return nil, "", fmt.Errorf("write part %d: %w", i, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + mw.Boundary(), nil
}

// Classify maps a batch response onto an outcome. The whole chunk shares the
// outcome of the envelope's status; per-item responses are not inspected.
func Classify(status int, err error) (indexer.Outcome, error) {
	switch {
	case err != nil:
		return indexer.OutcomeFailure, fmt.Errorf("%w: %w", indexer.ErrTransport, err)
	case status == http.StatusOK:
		return indexer.OutcomeSuccess, nil
	case status == http.StatusTooManyRequests:
		return indexer.OutcomeFailure, indexer.ErrQuotaExceeded
	default:
		return indexer.OutcomeFailure, fmt.Errorf("%w: %d", indexer.ErrUnexpectedStatus, status)
	}
}

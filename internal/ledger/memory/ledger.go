// Package memory keeps the URL and quota ledgers in memory for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type quotaEntry struct {
	date string
	url  string
}

// Ledger implements indexer.URLLedger, indexer.QuotaLedger and indexer.Snapshotter.
type Ledger struct {
	mu         sync.RWMutex
	discovered []string
	succeeded  []string
	failed     []string
	quota      map[string][]quotaEntry
}

// New returns an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{quota: make(map[string][]quotaEntry)}
}

// Discovered returns a copy of the discovered log.
func (l *Ledger) Discovered(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.discovered...), nil
}

// Succeeded returns a copy of the success log.
func (l *Ledger) Succeeded(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.succeeded...), nil
}

// Failed returns a copy of the failure log.
func (l *Ledger) Failed(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.failed...), nil
}

// AppendDiscovered appends to the discovered log.
func (l *Ledger) AppendDiscovered(_ context.Context, urls []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovered = append(l.discovered, urls...)
	return nil
}

// RecordSuccess appends to the success log.
func (l *Ledger) RecordSuccess(_ context.Context, urls []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.succeeded = append(l.succeeded, urls...)
	return nil
}

// RecordFailure appends to the failure log.
func (l *Ledger) RecordFailure(_ context.Context, urls []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, urls...)
	return nil
}

// CountOn counts the credential's entries dated date.
func (l *Ledger) CountOn(_ context.Context, credentialID, date string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.quota[credentialID] {
		if e.date == date {
			n++
		}
	}
	return n, nil
}

// Record adds one dated entry per URL.
func (l *Ledger) Record(_ context.Context, credentialID, date string, urls []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range urls {
		l.quota[credentialID] = append(l.quota[credentialID], quotaEntry{date: date, url: u})
	}
	return nil
}

// Prune drops the credential's entries not dated keepDate.
func (l *Ledger) Prune(_ context.Context, credentialID, keepDate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.quota[credentialID]
	if !ok {
		return nil
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.date == keepDate {
			kept = append(kept, e)
		}
	}
	l.quota[credentialID] = kept
	return nil
}

// Snapshot renders the ledger in the same layout the file backend writes.
func (l *Ledger) Snapshot(_ context.Context) (map[string][]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := map[string][]byte{
		"urls.txt":        render(l.discovered),
		"log_success.txt": render(l.succeeded),
		"log_failure.txt": render(l.failed),
	}
	ids := make([]string, 0, len(l.quota))
	for id := range l.quota {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lines := make([]string, 0, len(l.quota[id]))
		for _, e := range l.quota[id] {
			lines = append(lines, fmt.Sprintf("%s %s", e.date, e.url))
		}
		out["quota_"+id+".txt"] = render(lines)
	}
	return out, nil
}

func render(lines []string) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

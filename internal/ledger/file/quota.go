package file

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Quota ledger lines have the form "<YYYY-MM-DD> <url>", one file per credential.

// CountOn returns how many entries in the credential's quota file carry date.
func (l *Ledger) CountOn(ctx context.Context, credentialID, date string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("count quota: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := readLines(l.quotaPath(credentialID))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, line := range lines {
		if entryDate(line) == date {
			count++
		}
	}
	return count, nil
}

// Record appends one dated entry per URL to the credential's quota file.
func (l *Ledger) Record(ctx context.Context, credentialID, date string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record quota: %w", err)
	}
	entries := make([]string, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, date+" "+u)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLines(l.quotaPath(credentialID), entries)
}

// Prune rewrites the credential's quota file keeping only entries dated keepDate.
// A credential without a quota file is left alone.
func (l *Ledger) Prune(ctx context.Context, credentialID, keepDate string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("prune quota: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.quotaPath(credentialID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, line := range lines {
		if entryDate(line) != keepDate {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

func entryDate(line string) string {
	date, _, _ := strings.Cut(line, " ")
	return date
}

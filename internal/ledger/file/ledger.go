// Package file implements the URL and quota ledgers as newline-delimited files.
package file

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config names the ledger files. Relative names are resolved against Dir.
type Config struct {
	Dir            string `mapstructure:"dir"`
	DiscoveredFile string `mapstructure:"discovered_file"`
	SuccessFile    string `mapstructure:"success_file"`
	FailureFile    string `mapstructure:"failure_file"`
	QuotaPrefix    string `mapstructure:"quota_prefix"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Dir) == "" {
		c.Dir = "."
	}
	if c.DiscoveredFile == "" {
		c.DiscoveredFile = "urls.txt"
	}
	if c.SuccessFile == "" {
		c.SuccessFile = "log_success.txt"
	}
	if c.FailureFile == "" {
		c.FailureFile = "log_failure.txt"
	}
	if c.QuotaPrefix == "" {
		c.QuotaPrefix = "quota_"
	}
	return c
}

// Ledger owns every ledger file in a directory. One mutex serializes all reads and
// writes, so concurrent credential executors never interleave partial lines.
type Ledger struct {
	mu  sync.Mutex
	cfg Config
}

// New prepares the ledger directory and creates empty outcome logs when missing.
func New(cfg Config) (*Ledger, error) {
	cfg = cfg.withDefaults()
	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create ledger dir: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat ledger dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("ledger path %s is not a directory", cfg.Dir)
	}
	l := &Ledger{cfg: cfg}
	for _, name := range []string{cfg.SuccessFile, cfg.FailureFile} {
		if err := touch(l.path(name)); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(l.cfg.Dir, name)
}

func (l *Ledger) quotaPath(credentialID string) string {
	return l.path(l.cfg.QuotaPrefix + credentialID + ".txt")
}

// Discovered returns every URL in the discovered log, in file order.
func (l *Ledger) Discovered(ctx context.Context) ([]string, error) {
	return l.read(ctx, l.cfg.DiscoveredFile)
}

// Succeeded returns the success log.
func (l *Ledger) Succeeded(ctx context.Context) ([]string, error) {
	return l.read(ctx, l.cfg.SuccessFile)
}

// Failed returns the failure log.
func (l *Ledger) Failed(ctx context.Context) ([]string, error) {
	return l.read(ctx, l.cfg.FailureFile)
}

// AppendDiscovered appends newly discovered URLs.
func (l *Ledger) AppendDiscovered(ctx context.Context, urls []string) error {
	return l.append(ctx, l.cfg.DiscoveredFile, urls)
}

// RecordSuccess appends URLs to the success log.
func (l *Ledger) RecordSuccess(ctx context.Context, urls []string) error {
	return l.append(ctx, l.cfg.SuccessFile, urls)
}

// RecordFailure appends URLs to the failure log.
func (l *Ledger) RecordFailure(ctx context.Context, urls []string) error {
	return l.append(ctx, l.cfg.FailureFile, urls)
}

func (l *Ledger) read(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return readLines(l.path(name))
}

func (l *Ledger) append(ctx context.Context, name string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLines(l.path(name), lines)
}

// Snapshot returns the raw contents of every ledger file, keyed by base name.
func (l *Ledger) Snapshot(ctx context.Context) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string][]byte)
	for _, name := range []string{l.cfg.DiscoveredFile, l.cfg.SuccessFile, l.cfg.FailureFile} {
		// #nosec G304 -- ledger paths come from operator configuration.
		data, err := os.ReadFile(l.path(name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out[filepath.Base(name)] = data
	}
	quotaFiles, err := filepath.Glob(l.path(l.cfg.QuotaPrefix + "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("glob quota files: %w", err)
	}
	for _, p := range quotaFiles {
		// #nosec G304 -- path produced by Glob over the ledger directory.
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out[filepath.Base(p)] = data
	}
	return out, nil
}

func touch(path string) error {
	// #nosec G304 -- ledger paths come from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	// #nosec G304 -- ledger paths come from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return splitLines(data), nil
}

func splitLines(data []byte) []string {
	raw := strings.Split(string(data), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func appendLines(path string, lines []string) error {
	// #nosec G304 -- ledger paths come from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	var buf bytes.Buffer
	// A file rewritten without a trailing newline would otherwise glue the first
	// appended entry onto its last line.
	if needsNewline(f) {
		buf.WriteByte('\n')
	}
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		closeErr := f.Close()
		if closeErr != nil {
			return fmt.Errorf("write %s: %w (close: %v)", path, err, closeErr)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func needsNewline(f *os.File) bool {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false
	}
	return last[0] != '\n'
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

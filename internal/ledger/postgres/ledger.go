// Package postgres provides a Postgres-backed URL and quota ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultPrefix = "indexer_"

// Outcome values stored in the outcomes table.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Ledger stores discovered URLs, outcomes, and quota usage in three tables.
// Postgres serializes concurrent inserts, which gives the single-writer guarantee
// the file backend gets from its mutex.
type Ledger struct {
	pool   querier
	prefix string
}

// New connects to Postgres and ensures the ledger tables exist.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewWithPool(pool, cfg.TablePrefix)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(pool querier, prefix string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Ledger{pool: pool, prefix: prefix}, nil
}

// Close releases the underlying pool.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

func (l *Ledger) table(name string) string {
	return l.prefix + name
}

// Migrate creates the ledger tables when they do not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, l.table("discovered")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, l.table("outcomes")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	credential_id TEXT NOT NULL,
	usage_date DATE NOT NULL,
	url TEXT NOT NULL
)`, l.table("quota_usage")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_cred_date ON %[1]s (credential_id, usage_date)`,
			l.table("quota_usage")),
	}
	for _, stmt := range statements {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

// Discovered returns every discovered URL in discovery order.
func (l *Ledger) Discovered(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT url FROM %s ORDER BY seq`, l.table("discovered"))
	return l.queryURLs(ctx, query)
}

// Succeeded returns URLs recorded as succeeded.
func (l *Ledger) Succeeded(ctx context.Context) ([]string, error) {
	return l.outcomeURLs(ctx, outcomeSuccess)
}

// Failed returns URLs recorded as failed.
func (l *Ledger) Failed(ctx context.Context) ([]string, error) {
	return l.outcomeURLs(ctx, outcomeFailure)
}

// AppendDiscovered inserts new URLs, ignoring ones already present.
func (l *Ledger) AppendDiscovered(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (url)
SELECT u FROM unnest($1::text[]) WITH ORDINALITY AS x(u, ord) ORDER BY ord
ON CONFLICT (url) DO NOTHING`, l.table("discovered"))
	if _, err := l.pool.Exec(ctx, query, urls); err != nil {
		return fmt.Errorf("insert discovered: %w", err)
	}
	return nil
}

// RecordSuccess appends URLs to the success outcome.
func (l *Ledger) RecordSuccess(ctx context.Context, urls []string) error {
	return l.recordOutcome(ctx, outcomeSuccess, urls)
}

// RecordFailure appends URLs to the failure outcome.
func (l *Ledger) RecordFailure(ctx context.Context, urls []string) error {
	return l.recordOutcome(ctx, outcomeFailure, urls)
}

func (l *Ledger) recordOutcome(ctx context.Context, outcome string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (url, outcome)
SELECT u, $2 FROM unnest($1::text[]) WITH ORDINALITY AS x(u, ord) ORDER BY ord`, l.table("outcomes"))
	if _, err := l.pool.Exec(ctx, query, urls, outcome); err != nil {
		return fmt.Errorf("insert %s outcome: %w", outcome, err)
	}
	return nil
}

func (l *Ledger) outcomeURLs(ctx context.Context, outcome string) ([]string, error) {
	query := fmt.Sprintf(`SELECT url FROM %s WHERE outcome = $1 ORDER BY seq`, l.table("outcomes"))
	return l.queryURLs(ctx, query, outcome)
}

func (l *Ledger) queryURLs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return out, nil
}

// CountOn counts the credential's usage rows dated date.
func (l *Ledger) CountOn(ctx context.Context, credentialID, date string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE credential_id = $1 AND usage_date = $2::date`,
		l.table("quota_usage"))
	var n int64
	if err := l.pool.QueryRow(ctx, query, credentialID, date).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quota usage: %w", err)
	}
	return int(n), nil
}

// Record inserts one usage row per URL.
func (l *Ledger) Record(ctx context.Context, credentialID, date string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (credential_id, usage_date, url)
SELECT $1, $2::date, u FROM unnest($3::text[]) AS u`, l.table("quota_usage"))
	if _, err := l.pool.Exec(ctx, query, credentialID, date, urls); err != nil {
		return fmt.Errorf("insert quota usage: %w", err)
	}
	return nil
}

// Prune deletes the credential's usage rows not dated keepDate.
func (l *Ledger) Prune(ctx context.Context, credentialID, keepDate string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE credential_id = $1 AND usage_date <> $2::date`,
		l.table("quota_usage"))
	if _, err := l.pool.Exec(ctx, query, credentialID, keepDate); err != nil {
		return fmt.Errorf("prune quota usage: %w", err)
	}
	return nil
}

// Snapshot renders the tables in the layout the file backend writes, one
// quota file per credential, so archives look the same for every backend.
func (l *Ledger) Snapshot(ctx context.Context) (map[string][]byte, error) {
	discovered, err := l.Discovered(ctx)
	if err != nil {
		return nil, err
	}
	succeeded, err := l.Succeeded(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := l.Failed(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string][]byte{
		"urls.txt":        render(discovered),
		"log_success.txt": render(succeeded),
		"log_failure.txt": render(failed),
	}

	query := fmt.Sprintf(`SELECT credential_id, to_char(usage_date, 'YYYY-MM-DD'), url FROM %s
ORDER BY credential_id, seq`, l.table("quota_usage"))
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query quota usage: %w", err)
	}
	defer rows.Close()

	usage := map[string][]string{}
	for rows.Next() {
		var credID, date, u string
		if err := rows.Scan(&credID, &date, &u); err != nil {
			return nil, fmt.Errorf("scan quota usage: %w", err)
		}
		usage[credID] = append(usage[credID], date+" "+u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quota usage: %w", err)
	}
	for credID, lines := range usage {
		out["quota_"+credID+".txt"] = render(lines)
	}
	return out, nil
}

func render(lines []string) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

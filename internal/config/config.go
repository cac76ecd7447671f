// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Sitemap     SitemapConfig     `mapstructure:"sitemap"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Submit      SubmitConfig      `mapstructure:"submit"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SitemapConfig controls discovery.
type SitemapConfig struct {
	RootURL        string        `mapstructure:"root_url"`
	MaxDepth       int           `mapstructure:"max_depth"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// LedgerConfig selects and configures the durable ledger backend.
type LedgerConfig struct {
	Backend        string         `mapstructure:"backend"`
	Dir            string         `mapstructure:"dir"`
	DiscoveredFile string         `mapstructure:"discovered_file"`
	SuccessFile    string         `mapstructure:"success_file"`
	FailureFile    string         `mapstructure:"failure_file"`
	QuotaPrefix    string         `mapstructure:"quota_prefix"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig configures the Postgres ledger backend.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// CredentialsConfig lists service-account key files and their shared daily cap.
type CredentialsConfig struct {
	KeyFiles []string `mapstructure:"key_files"`
	KeyGlob  string   `mapstructure:"key_glob"`
	DailyCap int      `mapstructure:"daily_cap"`
	TokenURL string   `mapstructure:"token_url"`

	// TokenTimeout bounds each service-account token exchange.
	TokenTimeout time.Duration `mapstructure:"token_timeout"`
}

// SubmitConfig controls batch submission.
type SubmitConfig struct {
	Endpoint            string        `mapstructure:"endpoint"`
	PublishPath         string        `mapstructure:"publish_path"`
	Scope               string        `mapstructure:"scope"`
	ChunkSize           int           `mapstructure:"chunk_size"`
	Pacing              time.Duration `mapstructure:"pacing"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ParallelCredentials bool          `mapstructure:"parallel_credentials"`
}

// ArchiveConfig selects where ledger snapshots are copied after each run.
type ArchiveConfig struct {
	Provider string             `mapstructure:"provider"`
	Prefix   string             `mapstructure:"prefix"`
	Local    LocalArchiveConfig `mapstructure:"local"`
	GCS      GCSArchiveConfig   `mapstructure:"gcs"`
}

// LocalArchiveConfig configures the filesystem archive.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArchiveConfig configures the Cloud Storage archive.
type GCSArchiveConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

// NotifyConfig selects where run summaries are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MetricsConfig controls metric exposure for the batch job.
type MetricsConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Ledger backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Archive and notify providers.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderPubSub = "pubsub"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sitemap.root_url", "")
	v.SetDefault("sitemap.max_depth", 16)
	v.SetDefault("sitemap.user_agent", "sitemap-indexer/1.0")
	v.SetDefault("sitemap.request_timeout", 15*time.Second)
	v.SetDefault("sitemap.max_body_bytes", 50<<20)
	v.SetDefault("ledger.backend", BackendFile)
	v.SetDefault("ledger.dir", ".")
	v.SetDefault("ledger.discovered_file", "urls.txt")
	v.SetDefault("ledger.success_file", "log_success.txt")
	v.SetDefault("ledger.failure_file", "log_failure.txt")
	v.SetDefault("ledger.quota_prefix", "quota_")
	v.SetDefault("ledger.postgres.dsn", "")
	v.SetDefault("ledger.postgres.table_prefix", "indexer_")
	v.SetDefault("ledger.postgres.max_conns", 4)
	v.SetDefault("credentials.key_files", []string{})
	v.SetDefault("credentials.key_glob", "")
	v.SetDefault("credentials.daily_cap", indexer.DefaultDailyCap)
	v.SetDefault("credentials.token_url", "")
	v.SetDefault("credentials.token_timeout", 30*time.Second)
	v.SetDefault("submit.endpoint", "https://indexing.googleapis.com/batch")
	v.SetDefault("submit.publish_path", "/v3/urlNotifications:publish")
	v.SetDefault("submit.scope", "https://www.googleapis.com/auth/indexing")
	v.SetDefault("submit.chunk_size", indexer.MaxChunkSize)
	v.SetDefault("submit.pacing", time.Second)
	v.SetDefault("submit.request_timeout", 30*time.Second)
	v.SetDefault("submit.parallel_credentials", false)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("archive.local.base_dir", "archive")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.endpoint", "")
	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_id", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "sitemap-indexer")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Sitemap.MaxDepth <= 0 {
		return fmt.Errorf("sitemap.max_depth must be > 0")
	}
	if c.Sitemap.RequestTimeout <= 0 {
		return fmt.Errorf("sitemap.request_timeout must be > 0")
	}
	switch c.Ledger.Backend {
	case BackendFile:
		if c.Ledger.Dir == "" {
			return fmt.Errorf("ledger.dir must be set for the file backend")
		}
	case BackendPostgres:
		if c.Ledger.Postgres.DSN == "" {
			return fmt.Errorf("ledger.postgres.dsn must be set for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("ledger.backend must be one of file, postgres, memory (got %q)", c.Ledger.Backend)
	}
	if c.Credentials.DailyCap <= 0 {
		return fmt.Errorf("credentials.daily_cap must be > 0")
	}
	if c.Credentials.TokenTimeout <= 0 {
		return fmt.Errorf("credentials.token_timeout must be > 0")
	}
	if c.Submit.ChunkSize <= 0 || c.Submit.ChunkSize > indexer.MaxChunkSize {
		return fmt.Errorf("submit.chunk_size must be between 1 and %d", indexer.MaxChunkSize)
	}
	if c.Submit.Pacing < time.Second {
		return fmt.Errorf("submit.pacing must be at least 1s")
	}
	if c.Submit.RequestTimeout <= 0 {
		return fmt.Errorf("submit.request_timeout must be > 0")
	}
	if c.Submit.Endpoint == "" {
		return fmt.Errorf("submit.endpoint must be set")
	}
	switch c.Archive.Provider {
	case ProviderNone, "":
	case ProviderLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local archive")
		}
	case ProviderGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider must be one of none, local, gcs (got %q)", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case ProviderNone, "":
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.provider must be one of none, pubsub (got %q)", c.Notify.Provider)
	}
	return nil
}

// ResolveCredentials expands key_files and key_glob into credentials, in the
// listed order followed by glob matches in lexical order. Duplicates are dropped.
func (c Config) ResolveCredentials() ([]indexer.Credential, error) {
	files := append([]string{}, c.Credentials.KeyFiles...)
	if c.Credentials.KeyGlob != "" {
		matches, err := filepath.Glob(c.Credentials.KeyGlob)
		if err != nil {
			return nil, fmt.Errorf("credentials.key_glob: %w", err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}

	seen := make(map[string]struct{}, len(files))
	creds := make([]indexer.Credential, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		cred := indexer.CredentialFromKeyFile(f, c.Credentials.DailyCap)
		if _, dup := seen[cred.ID]; dup {
			continue
		}
		seen[cred.ID] = struct{}{}
		creds = append(creds, cred)
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no credentials configured: set credentials.key_files or credentials.key_glob")
	}
	return creds, nil
}

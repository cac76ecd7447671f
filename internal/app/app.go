// Package app builds the indexer's long-lived services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/auth"
	"github.com/JakeFAU/sitemap-indexer/internal/clock/system"
	"github.com/JakeFAU/sitemap-indexer/internal/config"
	collyfetcher "github.com/JakeFAU/sitemap-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-indexer/internal/id/uuid"
	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/ledger/file"
	"github.com/JakeFAU/sitemap-indexer/internal/ledger/memory"
	pgledger "github.com/JakeFAU/sitemap-indexer/internal/ledger/postgres"
	"github.com/JakeFAU/sitemap-indexer/internal/logging"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
	"github.com/JakeFAU/sitemap-indexer/internal/pipeline"
	"github.com/JakeFAU/sitemap-indexer/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/sitemap-indexer/internal/publisher/pubsub"
	"github.com/JakeFAU/sitemap-indexer/internal/quota"
	"github.com/JakeFAU/sitemap-indexer/internal/server"
	"github.com/JakeFAU/sitemap-indexer/internal/sitemap"
	gcsstorage "github.com/JakeFAU/sitemap-indexer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-indexer/internal/storage/local"
	"github.com/JakeFAU/sitemap-indexer/internal/submit"
)

// ledger is what every backend provides.
type ledger interface {
	indexer.URLLedger
	indexer.QuotaLedger
	indexer.Snapshotter
}

// App holds the services one CLI invocation needs.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	credErr  error
	status   *lastRun
	closers  []func() error

	serveCancel context.CancelFunc
	serveDone   chan struct{}
}

// New builds every service from cfg. A missing credential set is not an
// error here because crawl-only commands never authenticate; commands that
// submit call RequireCredentials.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, status: &lastRun{}}
	metrics.Init()

	creds, err := cfg.ResolveCredentials()
	if err != nil {
		a.credErr = err
		logger.Warn("no credentials resolved", zap.Error(err))
	}

	store, err := a.setupLedger(ctx)
	if err != nil {
		return nil, err
	}

	archive, err := a.setupArchive(ctx)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}

	notifier, err := a.setupNotifier(ctx)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}

	clock := system.New()
	authenticator := auth.NewServiceAccount(auth.Config{
		Scope:    cfg.Submit.Scope,
		TokenURL: cfg.Credentials.TokenURL,
		Timeout:  cfg.Credentials.TokenTimeout,
	}, logger)

	tracker, err := quota.NewTracker(store, authenticator, clock, logger)
	if err != nil {
		_ = a.closeResources()
		return nil, fmt.Errorf("quota tracker init failed: %w", err)
	}

	executor, err := submit.NewExecutor(submit.Config{
		Endpoint:       cfg.Submit.Endpoint,
		PublishPath:    cfg.Submit.PublishPath,
		RequestTimeout: cfg.Submit.RequestTimeout,
	}, submit.Dependencies{
		Auth:   authenticator,
		URLs:   store,
		Quota:  store,
		Pacer:  ratelimit.New(ratelimit.Config{Interval: cfg.Submit.Pacing}),
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		_ = a.closeResources()
		return nil, fmt.Errorf("executor init failed: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Sitemap.UserAgent,
		Timeout:     cfg.Sitemap.RequestTimeout,
		MaxBodySize: cfg.Sitemap.MaxBodyBytes,
	})
	crawler, err := sitemap.NewCrawler(sitemap.Config{MaxDepth: cfg.Sitemap.MaxDepth}, fetcher, store, logger)
	if err != nil {
		_ = a.closeResources()
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}

	deps := pipeline.Dependencies{
		Crawler:     crawler,
		URLs:        store,
		Quota:       tracker,
		Executor:    executor,
		Credentials: creds,
		Clock:       clock,
		IDs:         uuid.New(),
		Snapshotter: store,
		Archive:     archive,
		Notifier:    notifier,
		Logger:      logger,
	}
	a.pipeline, err = pipeline.New(pipeline.Config{
		RootURL:       cfg.Sitemap.RootURL,
		ChunkSize:     cfg.Submit.ChunkSize,
		Pacing:        cfg.Submit.Pacing,
		Parallel:      cfg.Submit.ParallelCredentials,
		ArchivePrefix: cfg.Archive.Prefix,
	}, deps)
	if err != nil {
		_ = a.closeResources()
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.Int("credentials", len(creds)),
		zap.Bool("parallel_credentials", cfg.Submit.ParallelCredentials),
	)
	return a, nil
}

func (a *App) setupLedger(ctx context.Context) (ledger, error) {
	switch a.cfg.Ledger.Backend {
	case config.BackendPostgres:
		pg, err := pgledger.New(ctx, pgledger.Config{
			DSN:         a.cfg.Ledger.Postgres.DSN,
			TablePrefix: a.cfg.Ledger.Postgres.TablePrefix,
			MaxConns:    a.cfg.Ledger.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres ledger init failed: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		a.logger.Info("using postgres ledger", zap.String("table_prefix", a.cfg.Ledger.Postgres.TablePrefix))
		return pg, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory ledger")
		return memory.New(), nil
	default:
		fl, err := file.New(file.Config{
			Dir:            a.cfg.Ledger.Dir,
			DiscoveredFile: a.cfg.Ledger.DiscoveredFile,
			SuccessFile:    a.cfg.Ledger.SuccessFile,
			FailureFile:    a.cfg.Ledger.FailureFile,
			QuotaPrefix:    a.cfg.Ledger.QuotaPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("file ledger init failed: %w", err)
		}
		a.logger.Info("using file ledger", zap.String("dir", a.cfg.Ledger.Dir))
		return fl, nil
	}
}

func (a *App) setupArchive(ctx context.Context) (indexer.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case config.ProviderGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:   a.cfg.Archive.GCS.Bucket,
			Endpoint: a.cfg.Archive.GCS.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("archiving runs to GCS", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
		return store, nil
	case config.ProviderLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving runs locally", zap.String("path", a.cfg.Archive.Local.BaseDir))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) setupNotifier(ctx context.Context) (indexer.Publisher, error) {
	if a.cfg.Notify.Provider != config.ProviderPubSub {
		return nil, nil
	}
	pub, err := gcppublisher.Open(ctx, gcppublisher.Config{
		ProjectID: a.cfg.Notify.ProjectID,
		TopicID:   a.cfg.Notify.TopicID,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("publishing run summaries",
		zap.String("project", a.cfg.Notify.ProjectID),
		zap.String("topic", a.cfg.Notify.TopicID),
	)
	return pub, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RequireCredentials reports why no credential could be resolved, if so.
func (a *App) RequireCredentials() error {
	return a.credErr
}

// Run executes one full pipeline run and remembers its summary for /v1/runs/last.
func (a *App) Run(ctx context.Context, opts pipeline.RunOptions) (indexer.Summary, error) {
	if err := a.RequireCredentials(); err != nil {
		return indexer.Summary{}, err
	}
	summary, err := a.pipeline.Run(ctx, opts)
	if summary.RunID != "" {
		a.status.set(summary)
	}
	return summary, err
}

// Crawl walks the configured sitemap into the URL ledger without submitting.
func (a *App) Crawl(ctx context.Context) (indexer.CrawlResult, error) {
	return a.pipeline.Crawl(ctx)
}

// Quota reports each credential's remaining daily quota.
func (a *App) Quota(ctx context.Context) ([]indexer.CredentialReport, error) {
	if err := a.RequireCredentials(); err != nil {
		return nil, err
	}
	return a.pipeline.Quota(ctx), nil
}

// ResetQuota prunes every credential's usage ledger to today's entries.
func (a *App) ResetQuota(ctx context.Context) error {
	if err := a.RequireCredentials(); err != nil {
		return err
	}
	return a.pipeline.ResetQuota(ctx)
}

// Serve starts the status server in the background when metrics.listen_addr is set.
func (a *App) Serve(ctx context.Context) {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" || a.serveCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.serveCancel = cancel
	a.serveDone = make(chan struct{})
	srv := server.New(a.pipeline, a.status, a.logger)
	go func() {
		defer close(a.serveDone)
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
}

// Close stops the status server, pushes metrics, and releases clients.
func (a *App) Close(ctx context.Context) error {
	if a.serveCancel != nil {
		a.serveCancel()
		<-a.serveDone
	}
	var errs []error
	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		if err := metrics.Push(ctx, url, a.cfg.Metrics.JobName); err != nil {
			a.logger.Warn("metrics push failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("shutdown complete")
	if err := logging.Sync(a.logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// lastRun remembers the latest summary for the status server.
type lastRun struct {
	mu      sync.RWMutex
	summary indexer.Summary
	ok      bool
}

func (l *lastRun) set(s indexer.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary, l.ok = s, true
}

// Last implements server.RunStatus.
func (l *lastRun) Last() (indexer.Summary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summary, l.ok
}

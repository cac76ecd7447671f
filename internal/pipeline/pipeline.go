// Package pipeline runs the crawl, quota, schedule, and submit stages end to end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
	"github.com/JakeFAU/sitemap-indexer/internal/scheduler"
)

// Crawler fills the URL ledger from a sitemap tree.
type Crawler interface {
	Crawl(ctx context.Context, root string) (indexer.CrawlResult, error)
}

// QuotaTracker reports and resets per-credential daily usage.
type QuotaTracker interface {
	RemainingAll(ctx context.Context, creds []indexer.Credential) []int
	ResetAll(ctx context.Context, creds []indexer.Credential) error
}

// Executor submits one credential's chunks.
type Executor interface {
	Execute(ctx context.Context, cred indexer.Credential, op indexer.Operation, chunks [][]string) (indexer.CredentialReport, error)
}

// Config controls a pipeline run.
type Config struct {
	RootURL   string
	ChunkSize int
	// Pacing is the pause between credentials processed in turn.
	Pacing time.Duration
	// Parallel runs credentials concurrently, each paced on its own.
	Parallel      bool
	ArchivePrefix string
}

// Dependencies are the collaborators a Pipeline needs. Snapshotter, Archive
// and Notifier are optional.
type Dependencies struct {
	Crawler     Crawler
	URLs        indexer.URLLedger
	Quota       QuotaTracker
	Executor    Executor
	Credentials []indexer.Credential
	Clock       indexer.Clock
	IDs         indexer.IDGenerator
	Snapshotter indexer.Snapshotter
	Archive     indexer.BlobStore
	Notifier    indexer.Publisher
	Logger      *zap.Logger
}

// RunOptions select the behavior of a single Run.
type RunOptions struct {
	Operation indexer.Operation
	SkipCrawl bool
}

// Pipeline orchestrates one run at a time.
type Pipeline struct {
	cfg   Config
	deps  Dependencies
	sleep func(context.Context, time.Duration) error
	log   *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Crawler == nil:
		return nil, errors.New("crawler is required")
	case deps.URLs == nil:
		return nil, errors.New("url ledger is required")
	case deps.Quota == nil:
		return nil, errors.New("quota tracker is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > indexer.MaxChunkSize {
		cfg.ChunkSize = indexer.MaxChunkSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, sleep: sleepCtx, log: logger.Named("pipeline")}, nil
}

// Run crawls (unless skipped), resets quota ledgers, schedules the pending
// queue across credentials, and submits it. Archive and notification failures
// are logged but never fail the run.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (indexer.Summary, error) {
	if opts.Operation == "" {
		opts.Operation = indexer.OperationUpdate
	}
	summary, err := p.run(ctx, opts)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveRun(status)
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions) (indexer.Summary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return indexer.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := p.deps.Clock.Now()
	summary := indexer.Summary{
		RunID:     runID,
		Date:      indexer.DateKey(started),
		Operation: opts.Operation,
		StartedAt: started,
	}
	log := p.log.With(zap.String("run_id", runID), zap.String("operation", string(opts.Operation)))
	log.Info("run started", zap.Int("credentials", len(p.deps.Credentials)))

	if !opts.SkipCrawl {
		crawl, err := p.Crawl(ctx)
		summary.Crawl = &crawl
		if err != nil {
			return p.finish(ctx, summary), err
		}
	}

	if err := p.deps.Quota.ResetAll(ctx, p.deps.Credentials); err != nil {
		return p.finish(ctx, summary), err
	}

	pending, err := p.pending(ctx)
	if err != nil {
		return p.finish(ctx, summary), err
	}
	summary.Pending = len(pending)

	remaining := p.deps.Quota.RemainingAll(ctx, p.deps.Credentials)
	for _, r := range remaining {
		summary.Capacity += r
	}
	log.Info("scheduling",
		zap.Int("pending", summary.Pending),
		zap.Int("capacity", summary.Capacity),
	)

	plan := scheduler.Plan(pending, p.deps.Credentials, remaining, p.cfg.ChunkSize)
	reports, err := p.execute(ctx, opts.Operation, plan)
	summary.Credentials = reports
	for _, r := range reports {
		summary.Succeeded += r.Succeeded
		summary.Failed += r.Failed
		summary.Skipped += r.Skipped
	}
	summary = p.finish(ctx, summary)
	if err != nil {
		return summary, err
	}
	log.Info("run finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("still_pending", summary.Pending-summary.Succeeded-summary.Failed),
	)
	return summary, nil
}

// Crawl walks the configured sitemap root into the URL ledger.
func (p *Pipeline) Crawl(ctx context.Context) (indexer.CrawlResult, error) {
	if p.cfg.RootURL == "" {
		return indexer.CrawlResult{}, errors.New("sitemap root url is not configured")
	}
	res, err := p.deps.Crawler.Crawl(ctx, p.cfg.RootURL)
	if err != nil {
		return res, fmt.Errorf("crawl %s: %w", p.cfg.RootURL, err)
	}
	p.log.Info("crawl finished",
		zap.Int("sitemaps_visited", res.SitemapsVisited),
		zap.Int("sitemaps_failed", res.SitemapsFailed),
		zap.Int("new_urls", res.NewURLs),
		zap.Int("total_discovered", res.TotalDiscovered),
	)
	return res, nil
}

// Quota reports each credential's remaining daily quota.
func (p *Pipeline) Quota(ctx context.Context) []indexer.CredentialReport {
	remaining := p.deps.Quota.RemainingAll(ctx, p.deps.Credentials)
	out := make([]indexer.CredentialReport, len(p.deps.Credentials))
	for i, c := range p.deps.Credentials {
		out[i] = indexer.CredentialReport{CredentialID: c.ID, Remaining: remaining[i]}
	}
	return out
}

// ResetQuota prunes every credential's usage ledger to today's entries.
func (p *Pipeline) ResetQuota(ctx context.Context) error {
	if err := p.deps.Quota.ResetAll(ctx, p.deps.Credentials); err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}

func (p *Pipeline) pending(ctx context.Context) ([]string, error) {
	discovered, err := p.deps.URLs.Discovered(ctx)
	if err != nil {
		return nil, fmt.Errorf("read discovered urls: %w", err)
	}
	succeeded, err := p.deps.URLs.Succeeded(ctx)
	if err != nil {
		return nil, fmt.Errorf("read success log: %w", err)
	}
	failed, err := p.deps.URLs.Failed(ctx)
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	return indexer.Pending(discovered, succeeded, failed), nil
}

func (p *Pipeline) execute(ctx context.Context, op indexer.Operation, plan []indexer.Assignment) ([]indexer.CredentialReport, error) {
	reports := make([]indexer.CredentialReport, len(plan))
	for i, a := range plan {
		reports[i] = indexer.CredentialReport{
			CredentialID: a.Credential.ID,
			Remaining:    a.Remaining,
			Assigned:     len(a.URLs),
			Chunks:       len(a.Chunks),
		}
	}

	if p.cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, a := range plan {
			if len(a.URLs) == 0 {
				continue
			}
			g.Go(func() error {
				r, err := p.deps.Executor.Execute(gctx, a.Credential, op, a.Chunks)
				r.Remaining = a.Remaining
				reports[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return reports, fmt.Errorf("execute: %w", err)
		}
		return reports, nil
	}

	sent := false
	for i, a := range plan {
		if len(a.URLs) == 0 {
			continue
		}
		if sent {
			if err := p.sleep(ctx, p.cfg.Pacing); err != nil {
				return reports, fmt.Errorf("pause before %s: %w", a.Credential.ID, err)
			}
		}
		r, err := p.deps.Executor.Execute(ctx, a.Credential, op, a.Chunks)
		r.Remaining = a.Remaining
		reports[i] = r
		if err != nil {
			return reports, fmt.Errorf("execute %s: %w", a.Credential.ID, err)
		}
		sent = true
	}
	return reports, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

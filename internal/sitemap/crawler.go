package sitemap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
)

// DefaultMaxDepth bounds how many index levels are followed below the root.
const DefaultMaxDepth = 16

// Config controls the crawl.
type Config struct {
	MaxDepth int
}

// Crawler resolves a sitemap-index tree into leaf URLs and appends the new ones
// to the URL ledger as each leaf set is parsed.
type Crawler struct {
	fetcher  indexer.Fetcher
	ledger   indexer.URLLedger
	maxDepth int
	logger   *zap.Logger
}

type frame struct {
	url   string
	depth int
}

// NewCrawler wires a Crawler.
func NewCrawler(cfg Config, fetcher indexer.Fetcher, ledger indexer.URLLedger, logger *zap.Logger) (*Crawler, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return &Crawler{
		fetcher:  fetcher,
		ledger:   ledger,
		maxDepth: depth,
		logger:   logger.Named("sitemap"),
	}, nil
}

// Crawl walks the tree rooted at root depth-first in document order. Fetch and
// parse failures abandon only the affected branch. Only ledger and context errors
// stop the crawl.
func (c *Crawler) Crawl(ctx context.Context, root string) (indexer.CrawlResult, error) {
	var result indexer.CrawlResult

	existing, err := c.ledger.Discovered(ctx)
	if err != nil {
		return result, fmt.Errorf("load discovered urls: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		known[u] = struct{}{}
	}

	visited := make(map[string]struct{})
	stack := []frame{{url: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("crawl canceled: %w", err)
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[top.url]; seen {
			c.logger.Debug("sitemap already visited", zap.String("url", top.url))
			continue
		}
		visited[top.url] = struct{}{}

		if top.depth > c.maxDepth {
			c.logger.Warn("sitemap beyond max depth",
				zap.String("url", top.url),
				zap.Int("depth", top.depth),
				zap.Int("max_depth", c.maxDepth),
			)
			metrics.ObserveSitemap(metrics.SitemapTooDeep)
			result.SitemapsFailed++
			continue
		}

		node, err := c.load(ctx, top.url)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("crawl canceled: %w", ctxErr)
			}
			result.SitemapsFailed++
			continue
		}
		result.SitemapsVisited++

		switch node.Kind {
		case indexer.NodeIndex:
			for i := len(node.Locations) - 1; i >= 0; i-- {
				stack = append(stack, frame{url: node.Locations[i], depth: top.depth + 1})
			}
		case indexer.NodeLeafSet:
			fresh := diff(node.Locations, known)
			if len(fresh) == 0 {
				continue
			}
			if err := c.ledger.AppendDiscovered(ctx, fresh); err != nil {
				return result, fmt.Errorf("append discovered urls: %w", err)
			}
			result.NewURLs += len(fresh)
			metrics.AddDiscovered(len(fresh))
			c.logger.Info("discovered urls",
				zap.String("sitemap", top.url),
				zap.Int("new", len(fresh)),
			)
		}
	}

	result.TotalDiscovered = len(known)
	return result, nil
}

func (c *Crawler) load(ctx context.Context, url string) (indexer.SitemapNode, error) {
	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		c.logger.Warn("sitemap fetch failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveSitemap(metrics.SitemapFetchError)
		return indexer.SitemapNode{}, err
	}
	node, err := Parse(body)
	if err != nil {
		c.logger.Warn("sitemap parse failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveSitemap(metrics.SitemapParseError)
		return indexer.SitemapNode{}, err
	}
	for _, loc := range node.Rejected {
		c.logger.Warn("sitemap location rejected", zap.String("url", url), zap.String("loc", loc))
	}
	metrics.ObserveSitemap(metrics.SitemapOK)
	return node, nil
}

// diff returns locations absent from known, in order, and adds them to known.
func diff(locations []string, known map[string]struct{}) []string {
	var fresh []string
	for _, u := range locations {
		if _, ok := known[u]; ok {
			continue
		}
		known[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh
}

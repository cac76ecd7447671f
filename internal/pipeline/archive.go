package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

const summaryObject = "summary.json"

// finish stamps the summary and hands it to the archive and notifier.
// It uses a context detached from cancellation so an interrupted run is still recorded.
func (p *Pipeline) finish(ctx context.Context, summary indexer.Summary) indexer.Summary {
	summary.FinishedAt = p.deps.Clock.Now()
	ctx = context.WithoutCancel(ctx)
	p.archive(ctx, summary)
	p.notify(ctx, summary)
	return summary
}

// archive copies every ledger file plus the summary to
// <prefix>/<date>/<run id>/<name> in the configured blob store.
func (p *Pipeline) archive(ctx context.Context, summary indexer.Summary) {
	if p.deps.Archive == nil {
		return
	}
	log := p.log.With(zap.String("run_id", summary.RunID))
	dir := path.Join(p.cfg.ArchivePrefix, summary.Date, summary.RunID)

	files := map[string][]byte{}
	if p.deps.Snapshotter != nil {
		snap, err := p.deps.Snapshotter.Snapshot(ctx)
		if err != nil {
			log.Error("snapshot ledger", zap.Error(err))
		} else {
			files = snap
		}
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		uri, err := p.deps.Archive.PutObject(ctx, path.Join(dir, name), "text/plain; charset=utf-8", bytes.NewReader(files[name]))
		if err != nil {
			log.Error("archive ledger file", zap.String("file", name), zap.Error(err))
			continue
		}
		log.Debug("archived ledger file", zap.String("uri", uri))
	}

	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Error("encode summary", zap.Error(err))
		return
	}
	uri, err := p.deps.Archive.PutObject(ctx, path.Join(dir, summaryObject), "application/json", bytes.NewReader(body))
	if err != nil {
		log.Error("archive summary", zap.Error(err))
		return
	}
	log.Info("run archived", zap.String("uri", uri), zap.Int("files", len(names)+1))
}

func (p *Pipeline) notify(ctx context.Context, summary indexer.Summary) {
	if p.deps.Notifier == nil {
		return
	}
	id, err := p.deps.Notifier.Publish(ctx, summary)
	if err != nil {
		p.log.Error("publish run summary", zap.String("run_id", summary.RunID), zap.Error(err))
		return
	}
	p.log.Info("run summary published", zap.String("run_id", summary.RunID), zap.String("message_id", id))
}

// Package quota computes how many submissions each credential may still make today.
package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
)

// Tracker derives remaining daily quota from the self-maintained usage ledger.
type Tracker struct {
	ledger indexer.QuotaLedger
	auth   indexer.Authenticator
	clock  indexer.Clock
	logger *zap.Logger
}

// NewTracker wires a Tracker.
func NewTracker(ledger indexer.QuotaLedger, auth indexer.Authenticator, clock indexer.Clock, logger *zap.Logger) (*Tracker, error) {
	if ledger == nil {
		return nil, errors.New("quota ledger is required")
	}
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{ledger: ledger, auth: auth, clock: clock, logger: logger.Named("quota")}, nil
}

// Remaining returns max(0, cap - today's usage). A credential that cannot
// authenticate, or whose usage cannot be read, has no capacity for this run.
func (t *Tracker) Remaining(ctx context.Context, cred indexer.Credential) int {
	remaining := t.remaining(ctx, cred)
	metrics.SetQuotaRemaining(cred.ID, remaining)
	return remaining
}

func (t *Tracker) remaining(ctx context.Context, cred indexer.Credential) int {
	if _, err := t.auth.Token(ctx, cred); err != nil {
		t.logger.Warn("credential unavailable, skipping for this run",
			zap.String("credential", cred.ID),
			zap.Error(err),
		)
		return 0
	}
	today := indexer.DateKey(t.clock.Now())
	used, err := t.ledger.CountOn(ctx, cred.ID, today)
	if err != nil {
		t.logger.Error("read quota usage",
			zap.String("credential", cred.ID),
			zap.Error(err),
		)
		return 0
	}
	limit := cred.DailyCap
	if limit <= 0 {
		limit = indexer.DefaultDailyCap
	}
	remaining := max(0, limit-used)
	t.logger.Info("quota",
		zap.String("credential", cred.ID),
		zap.String("date", today),
		zap.Int("used", used),
		zap.Int("remaining", remaining),
	)
	return remaining
}

// RemainingAll returns Remaining for each credential, in order.
func (t *Tracker) RemainingAll(ctx context.Context, creds []indexer.Credential) []int {
	out := make([]int, len(creds))
	for i, c := range creds {
		out[i] = t.Remaining(ctx, c)
	}
	return out
}

// ResetAll drops every usage entry not dated today for each credential.
func (t *Tracker) ResetAll(ctx context.Context, creds []indexer.Credential) error {
	today := indexer.DateKey(t.clock.Now())
	for _, c := range creds {
		if err := t.ledger.Prune(ctx, c.ID, today); err != nil {
			return fmt.Errorf("reset quota for %s: %w", c.ID, err)
		}
	}
	t.logger.Debug("quota ledgers reset", zap.String("date", today), zap.Int("credentials", len(creds)))
	return nil
}

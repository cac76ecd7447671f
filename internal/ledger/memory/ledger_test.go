package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

var (
	_ indexer.URLLedger   = (*Ledger)(nil)
	_ indexer.QuotaLedger = (*Ledger)(nil)
	_ indexer.Snapshotter = (*Ledger)(nil)
)

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New()
	require.NoError(t, l.AppendDiscovered(ctx, []string{"a", "b", "c"}))
	require.NoError(t, l.RecordSuccess(ctx, []string{"a"}))
	require.NoError(t, l.RecordFailure(ctx, []string{"b"}))

	discovered, _ := l.Discovered(ctx)
	succeeded, _ := l.Succeeded(ctx)
	failed, _ := l.Failed(ctx)
	assert.Equal(t, []string{"c"}, indexer.Pending(discovered, succeeded, failed))

	// Returned slices are copies.
	discovered[0] = "mutated"
	again, _ := l.Discovered(ctx)
	assert.Equal(t, "a", again[0])
}

func TestQuotaCountRecordPrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New()
	require.NoError(t, l.Record(ctx, "sa1", "2024-05-01", []string{"a", "b"}))
	require.NoError(t, l.Record(ctx, "sa1", "2024-04-30", []string{"c"}))

	n, err := l.CountOn(ctx, "sa1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, l.Prune(ctx, "sa1", "2024-05-01"))
	require.NoError(t, l.Prune(ctx, "missing", "2024-05-01"))
	n, _ = l.CountOn(ctx, "sa1", "2024-04-30")
	assert.Zero(t, n)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 a\n2024-05-01 b\n", string(snap["quota_sa1.txt"]))
	assert.Empty(t, snap["urls.txt"])
}

package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountOnMissingFileIsZero(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)
	n, err := l.CountOn(context.Background(), "sa1", "2024-05-01")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordAndCountByDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, dir := newLedger(t)

	require.NoError(t, l.Record(ctx, "sa1", "2024-04-30", []string{"old"}))
	require.NoError(t, l.Record(ctx, "sa1", "2024-05-01", []string{"a", "b"}))
	require.NoError(t, l.Record(ctx, "sa2", "2024-05-01", []string{"c"}))
	require.NoError(t, l.Record(ctx, "sa1", "2024-05-01", nil))

	n, err := l.CountOn(ctx, "sa1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.CountOn(ctx, "sa2", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "quota_sa1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30 old\n2024-05-01 a\n2024-05-01 b\n", string(raw))
}

func TestPruneKeepsOnlyKeepDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, dir := newLedger(t)
	require.NoError(t, l.Record(ctx, "sa1", "2024-04-29", []string{"x"}))
	require.NoError(t, l.Record(ctx, "sa1", "2024-05-01", []string{"a"}))
	require.NoError(t, l.Record(ctx, "sa1", "2024-04-30", []string{"y"}))

	require.NoError(t, l.Prune(ctx, "sa1", "2024-05-01"))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(filepath.Join(dir, "quota_sa1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 a\n", string(raw))

	n, err := l.CountOn(ctx, "sa1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Appends after a prune still land on their own line.
	require.NoError(t, l.Record(ctx, "sa1", "2024-05-01", []string{"b"}))
	n, err = l.CountOn(ctx, "sa1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPruneMissingFileIsNoop(t *testing.T) {
	t.Parallel()

	l, dir := newLedger(t)
	require.NoError(t, l.Prune(context.Background(), "ghost", "2024-05-01"))
	_, err := os.Stat(filepath.Join(dir, "quota_ghost.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCountOnLegacyFileWithoutTrailingNewline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, dir := newLedger(t)
	legacy := "2024-05-01 a\n2024-05-01 b"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quota_sa1.txt"), []byte(legacy), 0o600))

	require.NoError(t, l.Record(ctx, "sa1", "2024-05-01", []string{"c"}))
	n, err := l.CountOn(ctx, "sa1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

var _ indexer.BlobStore = (*BlobStore)(nil)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("a\nb\n")
	uri, err := store.PutObject(context.Background(), "runs/r1/urls.txt", "text/plain", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://runs/r1/urls.txt", uri)

	payload[0] = 'X'
	got, contentType, ok := store.Get("runs/r1/urls.txt")
	require.True(t, ok)
	assert.Equal(t, "a\nb\n", string(got))
	assert.Equal(t, "text/plain", contentType)

	got[0] = 'Y'
	again, _, _ := store.Get("runs/r1/urls.txt")
	assert.Equal(t, "a\nb\n", string(again))

	_, _, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"b", "a", "c"} {
		_, err := store.PutObject(ctx, p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, store.Paths())

	_, err := store.PutObject(ctx, "", "", bytes.NewReader(nil))
	require.Error(t, err)
}

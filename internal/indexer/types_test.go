package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingExcludesHandledURLs(t *testing.T) {
	t.Parallel()

	got := Pending([]string{"a", "b", "c"}, []string{"a"}, nil)
	require.Equal(t, []string{"b", "c"}, got)
}

func TestPendingKeepsDiscoveryOrderAndDropsDuplicates(t *testing.T) {
	t.Parallel()

	got := Pending(
		[]string{"d", "a", "", "b", "d", "c", "e"},
		[]string{"b"},
		[]string{"e"},
	)
	require.Equal(t, []string{"d", "a", "c"}, got)
}

func TestPendingEmptyInputs(t *testing.T) {
	t.Parallel()

	require.Empty(t, Pending(nil, nil, nil))
	require.Empty(t, Pending([]string{"a"}, []string{"a"}, []string{"a"}))
}

func TestDateKeyUsesUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+9", 9*60*60)
	ts := time.Date(2024, 3, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "2024-03-01", DateKey(ts))
}

func TestCredentialFromKeyFile(t *testing.T) {
	t.Parallel()

	cred := CredentialFromKeyFile("./keys/service_account1.json", 0)
	assert.Equal(t, "service_account1", cred.ID)
	assert.Equal(t, "./keys/service_account1.json", cred.KeyFile)
	assert.Equal(t, DefaultDailyCap, cred.DailyCap)

	cred = CredentialFromKeyFile("sa.json", 50)
	assert.Equal(t, 50, cred.DailyCap)
}

func TestOperationFromDeleteFlag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, OperationDelete, OperationFromDeleteFlag(true))
	assert.Equal(t, OperationUpdate, OperationFromDeleteFlag(false))
}

func TestNodeKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sitemapindex", NodeIndex.String())
	assert.Equal(t, "urlset", NodeLeafSet.String())
	assert.Equal(t, "unknown", NodeKind(0).String())
}

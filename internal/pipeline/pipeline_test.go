package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/ledger/memory"
	pubmemory "github.com/JakeFAU/sitemap-indexer/internal/publisher/memory"
	"github.com/JakeFAU/sitemap-indexer/internal/quota"
	"github.com/JakeFAU/sitemap-indexer/internal/sitemap"
	blobmemory "github.com/JakeFAU/sitemap-indexer/internal/storage/memory"
	"github.com/JakeFAU/sitemap-indexer/internal/submit"
)

var runTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int32 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", s.n.Add(1)), nil
}

type stubAuth struct{ denied map[string]bool }

func (s stubAuth) Token(_ context.Context, c indexer.Credential) (string, error) {
	if s.denied[c.ID] {
		return "", fmt.Errorf("%w: %s", indexer.ErrAuth, c.ID)
	}
	return "tok-" + c.ID, nil
}

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := m[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", indexer.ErrFetch, url)
	}
	return []byte(body), nil
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket not found")
}

// batchAPI answers every batch with status and counts the embedded sub-requests.
type batchAPI struct {
	srv    *httptest.Server
	mu     sync.Mutex
	tokens []string
	items  atomic.Int32
}

func newBatchAPI(t *testing.T, status int) *batchAPI {
	t.Helper()
	api := &batchAPI{}
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		api.items.Add(int32(strings.Count(string(body), "Content-ID: <item-")))
		api.mu.Lock()
		api.tokens = append(api.tokens, r.Header.Get("Authorization"))
		api.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(api.srv.Close)
	return api
}

type harness struct {
	ledger    *memory.Ledger
	store     *blobmemory.BlobStore
	notifier  *pubmemory.Publisher
	api       *batchAPI
	pipeline  *Pipeline
	pauses    []time.Duration
	pausesMux sync.Mutex
}

type harnessOpts struct {
	creds    []indexer.Credential
	denied   map[string]bool
	status   int
	parallel bool
	docs     mapFetcher
	archive  indexer.BlobStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.status == 0 {
		opts.status = http.StatusOK
	}
	h := &harness{
		ledger:   memory.New(),
		store:    blobmemory.NewBlobStore(),
		notifier: pubmemory.New(),
		api:      newBatchAPI(t, opts.status),
	}
	logger := zap.NewNop()
	clock := fixedClock{runTime}
	auth := stubAuth{denied: opts.denied}

	crawler, err := sitemap.NewCrawler(sitemap.Config{}, opts.docs, h.ledger, logger)
	require.NoError(t, err)
	tracker, err := quota.NewTracker(h.ledger, auth, clock, logger)
	require.NoError(t, err)
	exec, err := submit.NewExecutor(submit.Config{Endpoint: h.api.srv.URL}, submit.Dependencies{
		Auth:   auth,
		URLs:   h.ledger,
		Quota:  h.ledger,
		Clock:  clock,
		Logger: logger,
	})
	require.NoError(t, err)

	var archive indexer.BlobStore = h.store
	if opts.archive != nil {
		archive = opts.archive
	}
	p, err := New(Config{
		RootURL:       "https://example.com/sitemap.xml",
		Pacing:        time.Second,
		Parallel:      opts.parallel,
		ArchivePrefix: "runs",
	}, Dependencies{
		Crawler:     crawler,
		URLs:        h.ledger,
		Quota:       tracker,
		Executor:    exec,
		Credentials: opts.creds,
		Clock:       clock,
		IDs:         &seqIDs{},
		Snapshotter: h.ledger,
		Archive:     archive,
		Notifier:    h.notifier,
		Logger:      logger,
	})
	require.NoError(t, err)
	p.sleep = func(_ context.Context, d time.Duration) error {
		h.pausesMux.Lock()
		defer h.pausesMux.Unlock()
		h.pauses = append(h.pauses, d)
		return nil
	}
	h.pipeline = p
	return h
}

func (h *harness) pending(t *testing.T) []string {
	t.Helper()
	got, err := h.pipeline.pending(context.Background())
	require.NoError(t, err)
	return got
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Dependencies{})
	require.Error(t, err)
}

func TestRunSingleCredentialScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{creds: []indexer.Credential{{ID: "sa1", DailyCap: 1}}})
	require.NoError(t, h.ledger.AppendDiscovered(ctx, []string{"a", "b", "c"}))
	require.NoError(t, h.ledger.RecordSuccess(ctx, []string{"a"}))

	summary, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pending)
	assert.Equal(t, 1, summary.Capacity)
	assert.Equal(t, 1, summary.Succeeded)

	succeeded, _ := h.ledger.Succeeded(ctx)
	assert.Equal(t, []string{"a", "b"}, succeeded)
	assert.Equal(t, []string{"c"}, h.pending(t))
}

func TestRunZeroQuotaCredentialLeavesRemainderPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{creds: []indexer.Credential{
		{ID: "sa1", DailyCap: 2},
		{ID: "sa2", DailyCap: 1},
	}})
	require.NoError(t, h.ledger.AppendDiscovered(ctx, []string{"u1", "u2", "u3"}))
	require.NoError(t, h.ledger.Record(ctx, "sa2", "2024-05-01", []string{"earlier"}))

	summary, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	require.Len(t, summary.Credentials, 2)
	assert.Equal(t, 2, summary.Credentials[0].Succeeded)
	assert.Equal(t, 0, summary.Credentials[1].Assigned)
	assert.Equal(t, 0, summary.Credentials[1].Remaining)
	assert.Equal(t, []string{"u3"}, h.pending(t))
	assert.Equal(t, []string{"Bearer tok-sa1"}, h.api.tokens)
}

func TestRunQuotaExceededMarksFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{
		creds:  []indexer.Credential{{ID: "sa1", DailyCap: 10}},
		status: http.StatusTooManyRequests,
	})
	require.NoError(t, h.ledger.AppendDiscovered(ctx, []string{"x", "y", "z"}))

	summary, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Failed)

	failed, _ := h.ledger.Failed(ctx)
	assert.Equal(t, []string{"x", "y", "z"}, failed)
	n, _ := h.ledger.CountOn(ctx, "sa1", "2024-05-01")
	assert.Zero(t, n)
	assert.Empty(t, h.pending(t))
}

func TestRunCrawlsThenSubmitsWithArchiveAndNotify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := mapFetcher{
		"https://example.com/sitemap.xml": `<sitemapindex><sitemap><loc>https://example.com/posts.xml</loc></sitemap></sitemapindex>`,
		"https://example.com/posts.xml":   `<urlset><url><loc>https://example.com/p1</loc></url><url><loc>https://example.com/p2</loc></url></urlset>`,
	}
	h := newHarness(t, harnessOpts{creds: []indexer.Credential{{ID: "sa1", DailyCap: 200}}, docs: docs})

	summary, err := h.pipeline.Run(ctx, RunOptions{Operation: indexer.OperationDelete})
	require.NoError(t, err)
	require.NotNil(t, summary.Crawl)
	assert.Equal(t, 2, summary.Crawl.NewURLs)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, indexer.OperationDelete, summary.Operation)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "2024-05-01", summary.Date)

	assert.Equal(t, []string{
		"runs/2024-05-01/run-1/log_failure.txt",
		"runs/2024-05-01/run-1/log_success.txt",
		"runs/2024-05-01/run-1/quota_sa1.txt",
		"runs/2024-05-01/run-1/summary.json",
		"runs/2024-05-01/run-1/urls.txt",
	}, h.store.Paths())

	raw, contentType, ok := h.store.Get("runs/2024-05-01/run-1/summary.json")
	require.True(t, ok)
	assert.Equal(t, "application/json", contentType)
	var archived indexer.Summary
	require.NoError(t, json.Unmarshal(raw, &archived))
	assert.Equal(t, 2, archived.Succeeded)

	quotaFile, _, _ := h.store.Get("runs/2024-05-01/run-1/quota_sa1.txt")
	assert.Equal(t, "2024-05-01 https://example.com/p1\n2024-05-01 https://example.com/p2\n", string(quotaFile))

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	published, ok := msgs[0].(indexer.Summary)
	require.True(t, ok)
	assert.Equal(t, "run-1", published.RunID)
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := mapFetcher{
		"https://example.com/sitemap.xml": `<urlset><url><loc>a</loc></url><url><loc>b</loc></url></urlset>`,
	}
	h := newHarness(t, harnessOpts{creds: []indexer.Credential{{ID: "sa1", DailyCap: 200}}, docs: docs})

	_, err := h.pipeline.Run(ctx, RunOptions{})
	require.NoError(t, err)
	second, err := h.pipeline.Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Zero(t, second.Crawl.NewURLs)
	assert.Zero(t, second.Pending)
	assert.Equal(t, int32(2), h.api.items.Load())
}

func TestRunQuotaBoundAcrossRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{creds: []indexer.Credential{{ID: "sa1", DailyCap: 3}}})
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	require.NoError(t, h.ledger.AppendDiscovered(ctx, urls))

	for range 3 {
		_, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
		require.NoError(t, err)
	}
	n, _ := h.ledger.CountOn(ctx, "sa1", "2024-05-01")
	assert.Equal(t, 3, n)
	assert.Len(t, h.pending(t), 7)
}

func TestRunDisjointOutcomesInParallel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	creds := []indexer.Credential{{ID: "sa1", DailyCap: 120}, {ID: "sa2", DailyCap: 120}, {ID: "sa3", DailyCap: 120}}
	h := newHarness(t, harnessOpts{creds: creds, parallel: true})
	urls := make([]string, 300)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	require.NoError(t, h.ledger.AppendDiscovered(ctx, urls))

	summary, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	assert.Equal(t, 300, summary.Succeeded)
	assert.Empty(t, h.pauses)

	succeeded, _ := h.ledger.Succeeded(ctx)
	failed, _ := h.ledger.Failed(ctx)
	seen := map[string]int{}
	for _, u := range append(succeeded, failed...) {
		seen[u]++
	}
	assert.Len(t, seen, 300)
	for u, n := range seen {
		assert.Equal(t, 1, n, "url %s recorded %d times", u, n)
	}
}

func TestRunSerialPausesBetweenCredentials(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	creds := []indexer.Credential{{ID: "sa1", DailyCap: 1}, {ID: "empty", DailyCap: 1}, {ID: "sa3", DailyCap: 1}}
	h := newHarness(t, harnessOpts{creds: creds, denied: map[string]bool{"empty": true}})
	require.NoError(t, h.ledger.AppendDiscovered(ctx, []string{"a", "b"}))

	summary, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, []time.Duration{time.Second}, h.pauses)
	assert.Equal(t, []string{"Bearer tok-sa1", "Bearer tok-sa3"}, h.api.tokens)
}

func TestRunPrunesStaleQuotaEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{creds: []indexer.Credential{{ID: "sa1", DailyCap: 5}}})
	require.NoError(t, h.ledger.Record(ctx, "sa1", "2024-04-30", []string{"old"}))

	_, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	snap, _ := h.ledger.Snapshot(ctx)
	assert.Empty(t, snap["quota_sa1.txt"])
}

func TestRunArchiveAndNotifyFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{
		creds:   []indexer.Credential{{ID: "sa1", DailyCap: 5}},
		archive: failingStore{},
	})
	h.notifier.FailWith(errors.New("topic not found"))
	require.NoError(t, h.ledger.AppendDiscovered(ctx, []string{"a"}))

	summary, err := h.pipeline.Run(ctx, RunOptions{SkipCrawl: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRunWithoutRootFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{creds: []indexer.Credential{{ID: "sa1"}}})
	h.pipeline.cfg.RootURL = ""
	_, err := h.pipeline.Run(context.Background(), RunOptions{})
	require.ErrorContains(t, err, "root url")
}

func TestQuotaAndResetQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOpts{
		creds:  []indexer.Credential{{ID: "sa1", DailyCap: 5}, {ID: "sa2", DailyCap: 5}},
		denied: map[string]bool{"sa2": true},
	})
	require.NoError(t, h.ledger.Record(ctx, "sa1", "2024-05-01", []string{"a", "b"}))
	require.NoError(t, h.ledger.Record(ctx, "sa1", "2024-04-01", []string{"c"}))

	report := h.pipeline.Quota(ctx)
	assert.Equal(t, []indexer.CredentialReport{
		{CredentialID: "sa1", Remaining: 3},
		{CredentialID: "sa2", Remaining: 0},
	}, report)

	require.NoError(t, h.pipeline.ResetQuota(ctx))
	snap, _ := h.ledger.Snapshot(ctx)
	assert.Equal(t, "2024-05-01 a\n2024-05-01 b\n", string(snap["quota_sa1.txt"]))
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepCtx(context.Background(), 0))
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

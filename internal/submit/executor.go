package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
)

// DefaultEndpoint is the Indexing API batch endpoint.
const DefaultEndpoint = "https://indexing.googleapis.com/batch"

const (
	defaultRequestTimeout = 30 * time.Second
	maxLoggedBody         = 2048
)

// Config controls the batch requests.
type Config struct {
	Endpoint       string
	PublishPath    string
	RequestTimeout time.Duration
}

// Dependencies are the collaborators an Executor needs.
type Dependencies struct {
	HTTPClient *http.Client
	Auth       indexer.Authenticator
	URLs       indexer.URLLedger
	Quota      indexer.QuotaLedger
	Pacer      indexer.Pacer
	Clock      indexer.Clock
	Logger     *zap.Logger
}

// Executor submits one credential's chunks and records every outcome.
type Executor struct {
	cfg    Config
	client *http.Client
	auth   indexer.Authenticator
	urls   indexer.URLLedger
	quota  indexer.QuotaLedger
	pacer  indexer.Pacer
	clock  indexer.Clock
	logger *zap.Logger
}

// NewExecutor validates deps and applies defaults.
func NewExecutor(cfg Config, deps Dependencies) (*Executor, error) {
	if deps.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if deps.URLs == nil || deps.Quota == nil {
		return nil, errors.New("url and quota ledgers are required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.PublishPath == "" {
		cfg.PublishPath = DefaultPublishPath
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		client: client,
		auth:   deps.Auth,
		urls:   deps.URLs,
		quota:  deps.Quota,
		pacer:  deps.Pacer,
		clock:  deps.Clock,
		logger: logger.Named("submit"),
	}, nil
}

// Execute authenticates once and sends chunks in order, pacing before each one.
// If authentication fails nothing is sent and the URLs stay pending. The
// returned error is non-nil only when the context ends or a ledger write fails.
func (e *Executor) Execute(ctx context.Context, cred indexer.Credential, op indexer.Operation, chunks [][]string) (indexer.CredentialReport, error) {
	report := indexer.CredentialReport{CredentialID: cred.ID, Chunks: len(chunks)}
	for _, c := range chunks {
		report.Assigned += len(c)
	}
	logger := e.logger.With(zap.String("credential", cred.ID))
	if report.Assigned == 0 {
		logger.Info("nothing assigned, skipping credential")
		return report, nil
	}

	token, err := e.auth.Token(ctx, cred)
	if err != nil {
		logger.Warn("authentication failed, leaving urls pending", zap.Error(err))
		report.Skipped = report.Assigned
		report.Error = err.Error()
		return report, nil
	}

	logger.Info("submitting",
		zap.String("operation", string(op)),
		zap.Int("urls", report.Assigned),
		zap.Int("chunks", len(chunks)),
	)
	for i, chunk := range chunks {
		if err := e.pace(ctx, cred.ID); err != nil {
			report.Skipped += remainingURLs(chunks[i:])
			return report, err
		}
		outcome, err := e.submitChunk(ctx, cred.ID, token, op, chunk)
		chunkLog := logger.With(zap.Int("chunk", i+1), zap.Int("of", len(chunks)), zap.Int("urls", len(chunk)))
		if err != nil {
			chunkLog.Warn("chunk failed", zap.Error(err))
			report.Error = err.Error()
		} else {
			chunkLog.Info("chunk accepted")
		}
		if recErr := e.record(ctx, cred, outcome, chunk); recErr != nil {
			report.Skipped += remainingURLs(chunks[i+1:])
			return report, recErr
		}
		metrics.ObserveSubmissions(cred.ID, string(outcome), len(chunk))
		if outcome == indexer.OutcomeSuccess {
			report.Succeeded += len(chunk)
		} else {
			report.Failed += len(chunk)
		}
	}
	return report, nil
}

func (e *Executor) pace(ctx context.Context, key string) error {
	if e.pacer == nil {
		return nil
	}
	if err := e.pacer.Wait(ctx, key); err != nil {
		return fmt.Errorf("pace %s: %w", key, err)
	}
	return nil
}

func (e *Executor) submitChunk(ctx context.Context, credID, token string, op indexer.Operation, chunk []string) (indexer.Outcome, error) {
	body, contentType, err := BuildBatch(op, e.cfg.PublishPath, chunk)
	if err != nil {
		return indexer.OutcomeFailure, err
	}
	status, err := e.send(ctx, credID, token, body, contentType)
	return Classify(status, err)
}

func (e *Executor) send(ctx context.Context, credID, token string, body []byte, contentType string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post batch: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	metrics.ObserveBatch(credID, time.Since(start))
	if resp.StatusCode != http.StatusOK {
		e.logger.Debug("batch rejected",
			zap.String("credential", credID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
	}
	return resp.StatusCode, nil
}

// record persists a chunk's outcome. On success the quota entry is written
// before the success log. Writes ignore cancellation so an attempted chunk is
// never left out of both outcome logs.
func (e *Executor) record(ctx context.Context, cred indexer.Credential, outcome indexer.Outcome, chunk []string) error {
	ctx = context.WithoutCancel(ctx)
	if outcome == indexer.OutcomeSuccess {
		today := indexer.DateKey(e.clock.Now())
		if err := e.quota.Record(ctx, cred.ID, today, chunk); err != nil {
			return fmt.Errorf("record quota usage for %s: %w", cred.ID, err)
		}
		if err := e.urls.RecordSuccess(ctx, chunk); err != nil {
			return fmt.Errorf("record success: %w", err)
		}
		return nil
	}
	if err := e.urls.RecordFailure(ctx, chunk); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func remainingURLs(chunks [][]string) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}
